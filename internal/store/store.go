// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get-style methods when the key is absent.
var ErrNotFound = errors.New("store: not found")

// Store is the key-value service described in §4.2: simple get/set/
// merge for JobRecord, set-once and get for ClipUnlock, incr and get
// for WalletSpend, TTL'd set/get for the remaining entities, plus the
// single scripted atomic primitive that anchors unlock concurrency.
type Store interface {
	// JobRecord
	CreateJob(ctx context.Context, rec *JobRecord) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
	MergeJob(ctx context.Context, jobID string, fields map[string]interface{}) (*JobRecord, error)

	// ClipUnlock
	IsClipUnlocked(ctx context.Context, jobID, clipFile string) (bool, error)
	SetClipUnlocked(ctx context.Context, jobID, clipFile string) error

	// WalletSpend
	GetWalletSpend(ctx context.Context, wallet string) (int64, error)

	// IdempotencyResult
	GetIdempotencyResult(ctx context.Context, unlockRequestID string) (*IdempotencyResult, error)
	SetIdempotencyResultIfAbsent(ctx context.Context, unlockRequestID string, res *IdempotencyResult) (stored *IdempotencyResult, wasSet bool, err error)
	SetIdempotencyResult(ctx context.Context, unlockRequestID string, res *IdempotencyResult) error

	// UnlockPending
	GetUnlockPending(ctx context.Context, unlockRequestID string) (*UnlockPending, error)
	SetUnlockPending(ctx context.Context, unlockRequestID string, p *UnlockPending) error
	DeleteUnlockPending(ctx context.Context, unlockRequestID string) error

	// AuthNonce
	SetAuthNonce(ctx context.Context, nonce string, n *AuthNonce) error
	GetAuthNonce(ctx context.Context, nonce string) (*AuthNonce, error)
	DeleteAuthNonce(ctx context.Context, nonce string) error

	// AuthToken
	SetAuthToken(ctx context.Context, token, wallet string) error
	GetAuthToken(ctx context.Context, token string) (wallet string, err error)

	// TopupSignature (set-once)
	MarkTopupSignature(ctx context.Context, sig string) (alreadyMarked bool, err error)

	// Manifest cache
	GetCachedManifest(ctx context.Context, r2Prefix string) ([]byte, error)
	SetCachedManifest(ctx context.Context, r2Prefix string, data []byte) error

	// TryConsumeCredit is the scripted atomic primitive of §4.2.
	TryConsumeCredit(ctx context.Context, jobID, clipFile, wallet, unlockRequestID string, availableCredits int64, ttl int) (*ConsumeOutcome, error)

	// Ping checks connectivity for the /healthz probe.
	Ping(ctx context.Context) error
}
