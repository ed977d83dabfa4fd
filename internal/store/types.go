// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package store defines the tagged entity records of the job store
// (§3 of the specification) and the interface every backend must
// satisfy. Records are strict-decoded at the boundary: a malformed
// payload read back from Redis is an Internal error, never silently
// coerced.
package store

import "time"

// JobStatus is the outer lifecycle state of a job. Transitions are
// constrained to Queued -> Running -> (Succeeded | Failed).
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

// CanTransitionTo reports whether moving from s to next is legal under
// I6: Queued -> Running -> (Succeeded | Failed). A status may always
// repeat itself (the callback is idempotent and may be retried by the
// worker), but may not skip Running nor leave a terminal state.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s == next {
		return s == JobQueued || s == JobRunning || s == JobSucceeded || s == JobFailed
	}
	switch s {
	case JobQueued:
		return next == JobRunning
	case JobRunning:
		return next == JobSucceeded || next == JobFailed
	case JobSucceeded, JobFailed:
		return false
	default:
		return false
	}
}

// JobStage is the worker-reported processing stage within a status.
type JobStage string

const (
	StageDownload   JobStage = "DOWNLOAD"
	StageTranscript JobStage = "TRANSCRIPT"
	StageChunk      JobStage = "CHUNK"
	StageSelect     JobStage = "SELECT"
	StageRender     JobStage = "RENDER"
	StageUpload     JobStage = "UPLOAD"
	StageDone       JobStage = "DONE"
)

// JobRecord is the durable record of one clipping job.
type JobRecord struct {
	JobID       string    `json:"job_id"`
	JobToken    string    `json:"job_token"`
	Status      JobStatus `json:"status"`
	Stage       JobStage  `json:"stage"`
	Progress    int       `json:"progress"`
	R2Prefix    string    `json:"r2_prefix,omitempty"`
	RunID       string    `json:"nosana_run_id,omitempty"`
	StartError  string    `json:"start_error,omitempty"`
	Error       string    `json:"error,omitempty"`
	MarketCache string    `json:"market_cache,omitempty"`

	VideoURL          string `json:"video_url"`
	ClipDurationSecs  int    `json:"clip_duration_seconds"`
	ClipCount         int    `json:"clip_count"`
	Language          string `json:"language"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IdempotencyKind tags the provenance of an IdempotencyResult.
type IdempotencyKind string

const (
	IdempotencyNew    IdempotencyKind = "NEW"
	IdempotencyReplay IdempotencyKind = "REPLAY"
)

// IdempotencyStatus tags whether an IdempotencyResult reflects a
// still-in-flight attempt or a terminal outcome.
type IdempotencyStatus string

const (
	IdempotencyPending IdempotencyStatus = "pending"
	IdempotencyFinal   IdempotencyStatus = "final"
)

// IdempotencyResult is the authoritative outcome of one unlock
// attempt, keyed by the client-supplied unlockRequestId.
type IdempotencyResult struct {
	Unlocked       bool              `json:"unlocked"`
	ChargedCredits int               `json:"charged_credits"`
	Idempotency    IdempotencyKind   `json:"idempotency"`
	Status         IdempotencyStatus `json:"status"`
}

// UnlockPending is the crash-recovery marker written after an on-chain
// submit and before the clip unlock is durably persisted.
type UnlockPending struct {
	JobID     string `json:"job_id"`
	ClipFile  string `json:"clip_file"`
	Wallet    string `json:"wallet"`
	TxSig     string `json:"tx_sig"`
}

// AuthNonce is the server-issued wallet-auth challenge.
type AuthNonce struct {
	Wallet    string    `json:"wallet"`
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TTLs for the time-bounded entities (§3).
const (
	TTLIdempotencyResult = 300 * time.Second
	TTLUnlockPending     = 86400 * time.Second
	TTLAuthNonce         = 300 * time.Second
	TTLAuthToken         = 86400 * time.Second
	TTLManifestCache     = 60 * time.Second
)

// ConsumeOutcome is the result of the tryConsumeCredit scripted
// primitive (§4.2): either an Idempotency result keyed by
// unlockRequestId, or InsufficientCredits with no mutation performed.
type ConsumeOutcome struct {
	Result               *IdempotencyResult
	InsufficientCredits  bool
}
