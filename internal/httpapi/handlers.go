// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/kangklip/kangklip-server/internal/store"
)

// handlers groups every endpoint method. Its fields are exactly the
// Deps it was built from; the type exists purely to hang methods off.
type handlers struct {
	deps Deps
}

func decodeJSONBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return wrapError(KindValidation, "malformed request body", err)
	}
	return nil
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request, _ routeParams) error {
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		return wrapError(KindUpstream, "store unreachable", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return nil
}

func jobNotFoundOrUpstream(err error) error {
	if err == store.ErrNotFound {
		return newError(KindNotFound, "unknown job")
	}
	return wrapError(KindUpstream, "load job", err)
}
