// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-query-engine.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package qerrors defines the stable error kinds shared across the
// decomposer, streaming pipeline and correlator (spec.md §7).
package qerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable identifier for an error's category, per spec.md §7.
type Kind string

const (
	Transport       Kind = "Transport"
	Rejected        Kind = "Rejected"
	Timeout         Kind = "Timeout"
	Cancelled       Kind = "Cancelled"
	UnsupportedType Kind = "UnsupportedType"
	DepthExceeded   Kind = "DepthExceeded"
	InvalidBucket   Kind = "InvalidBucket"
	DuplicateSource Kind = "DuplicateSource"
	SizeMismatch    Kind = "SizeMismatch"
	Internal        Kind = "Internal"
)

// Error is the structured error type propagated by StreamTask, TransferTask,
// the Correlator and the Engine. SubRequest identifies the failing
// sub-request when relevant (Transport/Rejected); zero value otherwise.
type Error struct {
	Kind       Kind
	Message    string
	SubRequest string
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.SubRequest != "" {
		fmt.Fprintf(&b, "[%s]", e.SubRequest)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %s", e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with a literal message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and a wrapped cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithSubRequest returns a copy of e identifying the given sub-request.
func (e *Error) WithSubRequest(id string) *Error {
	cp := *e
	cp.SubRequest = id
	return &cp
}

// KindOf extracts the Kind of err if it is (or wraps) a *qerrors.Error,
// otherwise returns Internal.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return Internal
}

// MultiError joins the "partial errors" collected while processing a
// message or a batch of sub-requests, following the teacher's
// strings.Join(errors, ", ") accumulation style
// (internal/metricstoreclient/cc-metric-store.go's LoadData).
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	parts := make([]string, len(m.Errors))
	for i, e := range m.Errors {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Add appends err to the set, ignoring nil.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// ErrOrNil returns m if it holds at least one error, else nil.
func (m *MultiError) ErrOrNil() error {
	if m == nil || len(m.Errors) == 0 {
		return nil
	}
	return m
}

// First returns the first collected error, or nil.
func (m *MultiError) First() error {
	if m == nil || len(m.Errors) == 0 {
		return nil
	}
	return m.Errors[0]
}
