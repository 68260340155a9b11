// Copyright 2026 The TrialIQ Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apperr defines the failure taxonomy shared by the backend client,
// the domain services and the console transport.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindConflict   Kind = "conflict"
	KindForbidden  Kind = "forbidden"
	KindNetwork    Kind = "network"
	KindDecode     Kind = "decode"
)

// Error is implemented by every classified failure.
type Error interface {
	error
	Kind() Kind
}

// ValidationError is a precondition failure. Client-detected instances never
// reach the network; Status is set when the backend rejected the payload.
type ValidationError struct {
	Field   string
	Message string
	Status  int
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return "validation error: " + e.Message
}

func (e *ValidationError) Kind() Kind { return KindValidation }

// AuthError means the principal is not (or no longer) authenticated.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error: %s: %v", e.Message, e.Err)
	}
	return "auth error: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }
func (e *AuthError) Kind() Kind    { return KindAuth }

// ConflictError is a mutation the backend rejected on a referential
// constraint. Message carries the backend text verbatim when present.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Message }
func (e *ConflictError) Kind() Kind    { return KindConflict }

// ForbiddenError is a capability denial decided locally.
type ForbiddenError struct {
	Module string
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s on %s", e.Action, e.Module)
}

func (e *ForbiddenError) Kind() Kind { return KindForbidden }

// NetworkError covers transport failures, timeouts and unexpected statuses.
type NetworkError struct {
	Status  int
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("network error: %v", e.Err)
	case e.Status != 0:
		return fmt.Sprintf("network error: status %d: %s", e.Status, e.Message)
	}
	return "network error: " + e.Message
}

func (e *NetworkError) Unwrap() error { return e.Err }
func (e *NetworkError) Kind() Kind    { return KindNetwork }

// DecodeError is a response that did not decode into the data model.
type DecodeError struct {
	Target string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Target, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
func (e *DecodeError) Kind() Kind    { return KindDecode }

// Validation builds a client-side ValidationError.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies err. Unclassified errors are reported as network
// failures, the "unknown" bucket.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindNetwork
}

// Message returns the user-facing text carried by err, or "" when err
// carries none.
func Message(err error) string {
	var (
		v *ValidationError
		a *AuthError
		c *ConflictError
		n *NetworkError
	)
	switch {
	case errors.As(err, &v):
		return v.Message
	case errors.As(err, &c):
		return c.Message
	case errors.As(err, &a):
		return a.Message
	case errors.As(err, &n):
		return n.Message
	}
	return ""
}
