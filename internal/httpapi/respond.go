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
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response body", "err", err)
	}
}

// writeErr is the single top-level responder every handler funnels
// through (§9: no ad hoc error writes scattered across handlers).
func writeErr(w http.ResponseWriter, err error) {
	ae, ok := err.(*appError)
	if !ok {
		ae = wrapError(KindInternal, "internal error", err)
	}
	if ae.kind == KindInternal || ae.kind == KindUpstream {
		logger.Error("request failed", "kind", ae.kind, "err", ae.Error())
	}
	writeJSON(w, ae.status(), map[string]string{"error": ae.message})
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, ps routeParams) error
