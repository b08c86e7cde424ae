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
	"context"
	"fmt"
)

// LocalExecSession is a canned-response ExecSession for tests, mirroring
// shoal's redfish.NoopClient: it logs nothing and returns pre-programmed
// output for each command, enabling workflow tests to run without real
// hardware.
type LocalExecSession struct {
	// Responses maps a command string to the canned response to return.
	// Commands not present in the map return exit code 1 with an empty
	// stdout/stderr, matching a "command not found" on the fleet.
	Responses map[string]LocalResponse
	closed    bool
}

// LocalResponse is one canned ExecSession reply.
type LocalResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// NewLocalExecSession constructs a LocalExecSession with the given canned
// responses.
func NewLocalExecSession(responses map[string]LocalResponse) *LocalExecSession {
	return &LocalExecSession{Responses: responses}
}

func (l *LocalExecSession) Exec(_ context.Context, command string, _ bool) (string, string, int, error) {
	if l.closed {
		return "", "", -1, fmt.Errorf("session: exec on closed local session")
	}
	resp, ok := l.Responses[command]
	if !ok {
		return "", "", 1, nil
	}
	return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Err
}

func (l *LocalExecSession) Close() error {
	l.closed = true
	return nil
}

var _ ExecSession = (*LocalExecSession)(nil)
