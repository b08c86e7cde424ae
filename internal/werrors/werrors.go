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

// Package werrors defines the tagged error kinds the workflow engine uses
// to decide between retry and terminal failure, in place of distinct
// exception classes.
package werrors

import (
	"errors"
	"fmt"
)

// Kind tags an error with the propagation policy the engine should apply.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindTransport        Kind = "TransportError"
	KindRemoteCommand    Kind = "RemoteCommandError"
	KindTimeout          Kind = "TimeoutError"
	KindParse            Kind = "ParseError"
	KindConfig           Kind = "ConfigError"
	KindCancellation     Kind = "CancellationError"
	KindFirmwareCritical Kind = "FirmwareCriticalError"
)

// Retryable reports whether the engine should retry a step that failed
// with this kind, per spec.md §7's propagation table.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransport, KindRemoteCommand, KindTimeout:
		return true
	default:
		return false
	}
}

// Fatal reports whether this kind terminates the workflow even on the
// first occurrence, bypassing step retry entirely.
func (k Kind) Fatal() bool {
	switch k {
	case KindCancellation, KindFirmwareCritical:
		return true
	default:
		return false
	}
}

// Error wraps an underlying error with an operation name and a Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a tagged Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it (or one of the errors it wraps)
// is a *Error; otherwise it returns "" , false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
