// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package httpapi is the HTTP surface of §6: routing, auth gates,
// and the handlers for every endpoint, backed by the dispatcher,
// auth, unlock, artifact, and chain services.
package httpapi

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/kangklip/kangklip-server/internal/artifact"
	"github.com/kangklip/kangklip-server/internal/auth"
	"github.com/kangklip/kangklip-server/internal/chain"
	"github.com/kangklip/kangklip-server/internal/dispatcher"
	kklog "github.com/kangklip/kangklip-server/internal/log"
	"github.com/kangklip/kangklip-server/internal/metrics"
	"github.com/kangklip/kangklip-server/internal/store"
	"github.com/kangklip/kangklip-server/internal/unlock"
)

var logger = kklog.NewModuleLogger(kklog.ModuleHTTPAPI)

type routeParams = httprouter.Params

// Deps collects every service the HTTP surface calls into. It is
// threaded explicitly through New rather than held in package-level
// singletons (§9).
type Deps struct {
	Store        store.Store
	Dispatcher   *dispatcher.Service
	Auth         *auth.Service
	Unlock       *unlock.Coordinator
	Artifact     *artifact.Gate
	Credits      *chain.CreditService
	CallbackTok  string
	CORSOrigins  []string
}

// New builds the top-level HTTP handler: CORS, access logging and
// metrics, then the routed API surface.
func New(deps Deps) http.Handler {
	router := httprouter.New()

	h := &handlers{deps: deps}

	router.POST("/api/jobs", wrap("create_job", h.createJob))
	router.GET("/api/jobs/:jobId", wrap("get_job", h.getJob))
	router.GET("/api/jobs/:jobId/results", wrap("get_results", requireJobToken(deps.Store, h.getResults)))
	router.GET("/api/jobs/:jobId/clips/:clipFile/preview", wrap("clip_preview", requireJobToken(deps.Store, h.clipPreview)))
	router.GET("/api/jobs/:jobId/clips/:clipFile/download", wrap("clip_download", requireJobToken(deps.Store, h.clipDownload)))
	router.GET("/api/jobs/:jobId/clips/:clipFile/stream", wrap("clip_stream", requireJobToken(deps.Store, h.clipStream)))
	router.POST("/api/jobs/:jobId/clips/:clipFile/unlock", wrap("clip_unlock", requireJobToken(deps.Store, requireAuthToken(deps.Auth, h.clipUnlock))))

	router.POST("/api/auth/challenge", wrap("auth_challenge", h.authChallenge))
	router.POST("/api/auth/verify", wrap("auth_verify", h.authVerify))

	router.GET("/api/credits/balance", wrap("credits_balance", requireAuthToken(deps.Auth, h.creditsBalance)))
	router.POST("/api/credits/topup/usdc/intent", wrap("credits_topup_intent", requireAuthToken(deps.Auth, h.topupIntent)))
	router.POST("/api/credits/topup/usdc/confirm", wrap("credits_topup_confirm", requireAuthToken(deps.Auth, h.topupConfirm)))

	router.POST("/api/callback/nosana", wrap("callback_nosana", requireCallbackToken(deps.CallbackTok, h.callbackNosana)))

	router.GET("/healthz", wrap("healthz", h.healthz))
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "x-auth-token", "x-job-token", "x-callback-token"},
	})
	return corsHandler.Handler(accessLog(router))
}

// accessLog tags every request with a correlation id (distinct from
// any durable resource id: it exists only for tracing one request
// through logs) and records method/path/status/latency.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID, err := uuid.GenerateUUID()
		if err != nil {
			reqID = "unknown"
		}
		w.Header().Set("X-Request-Id", reqID)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logger.Info("request", "request_id", reqID, "method", r.Method, "path", r.URL.Path, "status", sw.status, "elapsed_ms", time.Since(start).Milliseconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// wrap adapts a handlerFunc into an httprouter.Handle, funneling every
// returned error through the single top-level responder and recording
// per-route metrics.
func wrap(route string, h handlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		err := h(sw, r, ps)
		if err != nil {
			writeErr(sw, err)
		}
		metrics.ObserveHTTP(route, r.Method, sw.status, time.Since(start))
	}
}
