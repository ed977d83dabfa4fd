// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package metrics exposes the service's Prometheus instrumentation:
// per-route HTTP counters/latencies, job submission outcomes, unlock
// outcomes, and chain-call latency.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts every handled request by route, method,
	// and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kangklip",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests handled, by route, method, and status code.",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration observes handler latency by route.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kangklip",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP handler latency in seconds, by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// JobsSubmittedTotal counts job submissions by dispatch outcome.
	JobsSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kangklip",
		Name:      "jobs_submitted_total",
		Help:      "Total job submissions, by outcome (dispatched, dispatch_failed).",
	}, []string{"outcome"})

	// UnlocksTotal counts unlock attempts by terminal outcome.
	UnlocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kangklip",
		Name:      "unlocks_total",
		Help:      "Total unlock attempts, by outcome (new, replay, insufficient, in_progress, upstream_error).",
	}, []string{"outcome"})

	// ChainCallDuration observes chain RPC / submit latency by
	// operation name.
	ChainCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kangklip",
		Name:      "chain_call_duration_seconds",
		Help:      "Chain RPC call latency in seconds, by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal, HTTPRequestDuration, JobsSubmittedTotal, UnlocksTotal, ChainCallDuration)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one completed request's outcome.
func ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
