// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package httpapi

import (
	"context"
	"net/http"

	"github.com/kangklip/kangklip-server/internal/auth"
	"github.com/kangklip/kangklip-server/internal/store"
)

type contextKey string

const walletContextKey contextKey = "wallet"

// requireJobToken checks the x-job-token header against the job
// record named by the :jobId path parameter before calling next.
func requireJobToken(st store.Store, next handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, ps routeParams) error {
		jobID := ps.ByName("jobId")
		token := r.Header.Get("x-job-token")
		if token == "" {
			return newError(KindUnauthorized, "missing job token")
		}
		rec, err := st.GetJob(r.Context(), jobID)
		if err == store.ErrNotFound {
			return newError(KindNotFound, "unknown job")
		}
		if err != nil {
			return wrapError(KindUpstream, "load job", err)
		}
		if rec.JobToken != token {
			return newError(KindUnauthorized, "invalid job token")
		}
		return next(w, r, ps)
	}
}

// requireAuthToken resolves the x-auth-token header to a wallet and
// stashes it in the request context before calling next.
func requireAuthToken(svc *auth.Service, next handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, ps routeParams) error {
		token := r.Header.Get("x-auth-token")
		if token == "" {
			return newError(KindUnauthorized, "missing auth token")
		}
		wallet, err := svc.WalletForToken(r.Context(), token)
		if err != nil {
			if err == auth.ErrTokenNotFound {
				return newError(KindUnauthorized, "invalid or expired auth token")
			}
			return wrapError(KindUpstream, "resolve auth token", err)
		}
		ctx := context.WithValue(r.Context(), walletContextKey, wallet)
		return next(w, r.WithContext(ctx), ps)
	}
}

// requireCallbackToken checks the x-callback-token header against the
// service's configured callback secret.
func requireCallbackToken(secret string, next handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, ps routeParams) error {
		if r.Header.Get("x-callback-token") != secret {
			return newError(KindUnauthorized, "invalid callback token")
		}
		return next(w, r, ps)
	}
}

func walletFromContext(r *http.Request) string {
	wallet, _ := r.Context().Value(walletContextKey).(string)
	return wallet
}
