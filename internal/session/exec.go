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

// Package session defines the uniform remote-execution (ExecSession) and
// Redfish (RedfishSession) contracts the rest of the engine consumes.
// Both are scoped resources: opened at workflow start or lazily per
// component, and explicitly released on every exit path including step
// failure.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// ExecSession runs shell commands against a single target and returns
// the command's stdout, stderr, and exit code. Implementations are
// blocking; the caller is responsible for applying a timeout via ctx.
type ExecSession interface {
	io.Closer
	Exec(ctx context.Context, command string, useSudo bool) (stdout, stderr string, exitCode int, err error)
}

// SSHExecSession is the default ExecSession, backed by an established
// SSH connection. Built on golang.org/x/crypto/ssh.
type SSHExecSession struct {
	client *ssh.Client
	host   string
}

// SSHConfig carries the connection parameters for DialSSH.
type SSHConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKey     []byte
	Timeout        time.Duration
	HostKeyInsecure bool // accept any host key; intended for lab/test fleets only
}

// DialSSH opens a new SSH-backed ExecSession. Callers must Close() it on
// every exit path, including step failure and cancellation.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSHExecSession, error) {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	var auths []ssh.AuthMethod
	if len(cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("session: parse private key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auths = append(auths, ssh.Password(cfg.Password))
	}

	if !cfg.HostKeyInsecure {
		return nil, fmt.Errorf("session: host key verification requested for %s but this build has no known-hosts store; set HostKeyInsecure to accept any key", cfg.Host)
	}
	slog.Warn("session: SSH host key verification disabled, accepting any host key", "host", cfg.Host)
	hostKeyCallback := ssh.InsecureIgnoreHostKey()

	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auths,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("session: ssh handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	return &SSHExecSession{client: client, host: cfg.Host}, nil
}

// Exec runs command over a fresh SSH session (one session per command,
// matching the non-concurrent-safe nature of most vendor CLI tools).
func (s *SSHExecSession) Exec(ctx context.Context, command string, useSudo bool) (string, string, int, error) {
	if useSudo {
		command = "sudo -n " + command
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("session: new ssh session to %s: %w", s.host, err)
	}
	defer sess.Close()

	var stdout, stderr strings.Builder
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return stdout.String(), stderr.String(), -1, ctx.Err()
	case err := <-done:
		if err == nil {
			return stdout.String(), stderr.String(), 0, nil
		}
		var exitErr *ssh.ExitError
		if ok := asExitError(err, &exitErr); ok {
			return stdout.String(), stderr.String(), exitErr.ExitStatus(), nil
		}
		return stdout.String(), stderr.String(), -1, fmt.Errorf("session: exec on %s: %w", s.host, err)
	}
}

func asExitError(err error, target **ssh.ExitError) bool {
	ee, ok := err.(*ssh.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

// Close releases the underlying SSH connection.
func (s *SSHExecSession) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ ExecSession = (*SSHExecSession)(nil)
