// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package httpapi

import "net/http"

// Kind is one of the error kinds enumerated in §7, each mapped to a
// fixed HTTP status.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindPaymentRequired Kind = "payment_required"
	KindUpstream        Kind = "upstream"
	KindInternal        Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindValidation:      http.StatusBadRequest,
	KindUnauthorized:    http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindPaymentRequired: http.StatusPaymentRequired,
	KindUpstream:        http.StatusBadGateway,
	KindInternal:        http.StatusInternalServerError,
}

// appError is the single error type every handler returns; the
// top-level responder maps it to a status and a `{"error": message}`
// body. Handlers never write an error response directly.
type appError struct {
	kind    Kind
	message string
	cause   error
}

func (e *appError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}
func (e *appError) Unwrap() error { return e.cause }

func newError(kind Kind, message string) *appError {
	return &appError{kind: kind, message: message}
}

func wrapError(kind Kind, message string, cause error) *appError {
	return &appError{kind: kind, message: message, cause: cause}
}

func (e *appError) status() int {
	if s, ok := kindStatus[e.kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}
