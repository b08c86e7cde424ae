// Shoal is a Redfish aggregator service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"
)

// RedfishConfig carries the connection parameters for DialRedfish.
type RedfishConfig struct {
	Endpoint           string // e.g. https://10.0.0.5
	Username, Password string
	Vendor             string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// retryPolicy mirrors shoal's internal/bmc/retry.go doWithRetry: bounded
// attempts, exponential backoff with a cap and +/- jitter, retry only on
// transport errors, 429, and 5xx.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitterFrac  float64
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{maxAttempts: 4, baseDelay: 500 * time.Millisecond, maxDelay: 3 * time.Second, jitterFrac: 0.3}
}

// httpRedfishSession is a manual-JSON Redfish client over net/http,
// grounded on shoal's internal/provisioner/redfish/http_client.go and
// internal/bmc/service.go (Basic auth, bounded retry on 5xx/429/transport
// errors). The system ID is fixed at "1"; the Systems collection is not
// enumerated.
type httpRedfishSession struct {
	cfg     RedfishConfig
	hc      *http.Client
	baseURL *url.URL
	retry   retryPolicy
	sysID   string
}

// DialRedfish opens a Redfish session against cfg.Endpoint. System-scoped
// calls use system ID "1"; no system ID discovery is performed.
func DialRedfish(cfg RedfishConfig) (RedfishSession, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("session: invalid redfish endpoint %q: %w", cfg.Endpoint, err)
	}
	tr := &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}}
	return &httpRedfishSession{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.Timeout, Transport: tr},
		baseURL: u,
		retry:   defaultRetryPolicy(),
		sysID:   "1",
	}, nil
}

func (s *httpRedfishSession) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	u := *s.baseURL
	u.Path = path

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("session: marshal redfish request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	var attempt int
	var lastErr error
	for attempt = 1; attempt <= s.retry.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)

		resp, err := s.hc.Do(req)
		if err == nil && resp.StatusCode < 300 {
			return resp, nil
		}
		if !isRetryableHTTP(err, resp) {
			if err != nil {
				return nil, err
			}
			return resp, nil
		}
		if resp != nil {
			if err == nil {
				msg, _ := io.ReadAll(resp.Body)
				err = &RedfishError{StatusCode: resp.StatusCode, Message: string(msg)}
			}
			_ = resp.Body.Close()
		}
		lastErr = err
		if attempt < s.retry.maxAttempts {
			sleepWithJitter(ctx, s.retry, attempt)
		}
		if body != nil {
			// rewind body for retry
			b, _ := json.Marshal(body)
			bodyReader = bytes.NewReader(b)
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("session: redfish request failed after retries")
}

func sleepWithJitter(ctx context.Context, p retryPolicy, attempt int) {
	exp := attempt - 1
	if exp > 10 {
		exp = 10
	}
	backoff := p.baseDelay * (1 << exp)
	if backoff > p.maxDelay {
		backoff = p.maxDelay
	}
	jitter := time.Duration(rand.Float64() * p.jitterFrac * float64(backoff) * 2)
	sleep := backoff - time.Duration(p.jitterFrac*float64(backoff)) + jitter
	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func isRetryableHTTP(err error, resp *http.Response) bool {
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return true
		}
		return true
	}
	if resp == nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)
}

func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return &RedfishError{StatusCode: resp.StatusCode, Message: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *httpRedfishSession) GetServiceRoot(ctx context.Context) (json.RawMessage, error) {
	resp, err := s.do(ctx, http.MethodGet, "/redfish/v1/", nil)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := decodeJSON(resp, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *httpRedfishSession) GetSystem(ctx context.Context, id string) (json.RawMessage, error) {
	if id == "" {
		id = s.sysID
	}
	resp, err := s.do(ctx, http.MethodGet, "/redfish/v1/Systems/"+id, nil)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := decodeJSON(resp, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *httpRedfishSession) GetBIOSAttributes(ctx context.Context) (map[string]any, error) {
	resp, err := s.do(ctx, http.MethodGet, "/redfish/v1/Systems/"+s.sysID+"/Bios", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Attributes map[string]any `json:"Attributes"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return nil, err
	}
	return payload.Attributes, nil
}

func (s *httpRedfishSession) PatchBIOSAttributes(ctx context.Context, settings map[string]any) (string, error) {
	body := map[string]any{"Attributes": settings}
	resp, err := s.do(ctx, http.MethodPatch, "/redfish/v1/Systems/"+s.sysID+"/Bios/Settings", body)
	if err != nil {
		return "", err
	}
	var payload struct {
		Task struct {
			ODataID string `json:"@odata.id"`
		} `json:"@Redfish.Task"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return "", err
	}
	return payload.Task.ODataID, nil
}

func (s *httpRedfishSession) PowerAction(ctx context.Context, action PowerAction) error {
	body := map[string]any{"ResetType": string(action)}
	resp, err := s.do(ctx, http.MethodPost, "/redfish/v1/Systems/"+s.sysID+"/Actions/ComputerSystem.Reset", body)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func (s *httpRedfishSession) GetFirmwareInventory(ctx context.Context) ([]FirmwareInventoryEntry, error) {
	resp, err := s.do(ctx, http.MethodGet, "/redfish/v1/UpdateService/FirmwareInventory", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Members []FirmwareInventoryEntry `json:"Members"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return nil, err
	}
	return payload.Members, nil
}

func (s *httpRedfishSession) InitiateFirmwareUpdate(ctx context.Context, imageURI string, targets []string) (string, error) {
	body := map[string]any{"ImageURI": imageURI}
	if len(targets) > 0 {
		body["Targets"] = targets
	}
	resp, err := s.do(ctx, http.MethodPost, "/redfish/v1/UpdateService/Actions/UpdateService.SimpleUpdate", body)
	if err != nil {
		return "", err
	}
	var payload struct {
		TaskID string `json:"Id"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return "", err
	}
	return payload.TaskID, nil
}

func (s *httpRedfishSession) GetTask(ctx context.Context, taskID string) (Task, error) {
	resp, err := s.do(ctx, http.MethodGet, "/redfish/v1/TaskService/Tasks/"+taskID, nil)
	if err != nil {
		return Task{}, err
	}
	var t Task
	if err := decodeJSON(resp, &t); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *httpRedfishSession) SupportsBIOSConfig(ctx context.Context, setting string) bool {
	attrs, err := s.GetBIOSAttributes(ctx)
	if err != nil {
		return false
	}
	_, ok := attrs[setting]
	return ok
}

func (s *httpRedfishSession) Close() error {
	s.hc.CloseIdleConnections()
	return nil
}

var _ RedfishSession = (*httpRedfishSession)(nil)
