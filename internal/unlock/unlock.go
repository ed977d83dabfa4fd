// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package unlock implements the per-(job, clip, unlockRequestId) unlock
// state machine of §4.5: an idempotent, crash-recoverable bridge
// between a single on-chain consume_credit submission and the durable
// ClipUnlock flag that gates clip download.
package unlock

import (
	"context"
	"fmt"

	"github.com/kangklip/kangklip-server/internal/chain"
	kklog "github.com/kangklip/kangklip-server/internal/log"
	"github.com/kangklip/kangklip-server/internal/store"
)

var logger = kklog.NewModuleLogger(kklog.ModuleUnlock)

// Coordinator runs the unlock state machine against a Store and a
// CreditService.
type Coordinator struct {
	store   store.Store
	credits *chain.CreditService
}

// NewCoordinator builds an unlock Coordinator.
func NewCoordinator(st store.Store, credits *chain.CreditService) *Coordinator {
	return &Coordinator{store: st, credits: credits}
}

// ErrInsufficientCredits means the wallet holds < 1 credit on chain.
var ErrInsufficientCredits = fmt.Errorf("unlock: insufficient on-chain credits")

// ErrInProgress means a prior attempt with this unlockRequestId is
// still pending; the caller should map this to 409.
var ErrInProgress = fmt.Errorf("unlock: request already in progress")

// ErrSubmitFailed means the on-chain submission itself failed and the
// funding re-check did not show the wallet short: it either read at
// least 1 credit (StillFunded) or failed itself. A re-check that reads
// fewer than 1 credit yields ErrInsufficientCredits instead. The HTTP
// layer maps ErrSubmitFailed to 502.
type ErrSubmitFailed struct {
	Cause              error
	StillFunded        bool
}

func (e *ErrSubmitFailed) Error() string {
	return fmt.Sprintf("unlock: on-chain submit failed: %v", e.Cause)
}
func (e *ErrSubmitFailed) Unwrap() error { return e.Cause }

// Request identifies one unlock attempt.
type Request struct {
	JobID           string
	ClipFile        string
	Wallet          string
	UnlockRequestID string
}

// Unlock drives the eight-step state machine of §4.5 to completion
// and returns the authoritative IdempotencyResult.
func (c *Coordinator) Unlock(ctx context.Context, req Request) (*store.IdempotencyResult, error) {
	// 1. Recover pending: a crash between on-chain submit and local
	// commit leaves this marker as the source of truth.
	pending, err := c.store.GetUnlockPending(ctx, req.UnlockRequestID)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("unlock: load pending marker: %w", err)
	}
	if pending != nil && pending.JobID == req.JobID && pending.ClipFile == req.ClipFile {
		if err := c.store.SetClipUnlocked(ctx, req.JobID, req.ClipFile); err != nil {
			return nil, fmt.Errorf("unlock: recover-path set clip unlocked: %w", err)
		}
		if err := c.store.DeleteUnlockPending(ctx, req.UnlockRequestID); err != nil {
			logger.Warn("failed to delete recovered pending marker", "unlock_request_id", req.UnlockRequestID, "err", err)
		}
		res := &store.IdempotencyResult{Unlocked: true, ChargedCredits: 0, Idempotency: store.IdempotencyReplay, Status: store.IdempotencyFinal}
		if err := c.store.SetIdempotencyResult(ctx, req.UnlockRequestID, res); err != nil {
			logger.Warn("failed to persist recovered idempotency result", "unlock_request_id", req.UnlockRequestID, "err", err)
		}
		return res, nil
	}

	// 2/3. Fast path idempotent: an unlockRequestId with a final result
	// of its own replays that result unchanged, even if the clip has
	// since been unlocked by this very id's original run (§4.5, P2).
	// Checked before the generic already-unlocked fast path below.
	existing, err := c.store.GetIdempotencyResult(ctx, req.UnlockRequestID)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("unlock: load idempotency result: %w", err)
	}
	if existing != nil {
		if existing.Status == store.IdempotencyFinal {
			return existing, nil
		}
		return nil, ErrInProgress
	}

	// Fast path already unlocked (by a different unlockRequestId):
	// synthesize a fresh REPLAY record for this id.
	unlocked, err := c.store.IsClipUnlocked(ctx, req.JobID, req.ClipFile)
	if err != nil {
		return nil, fmt.Errorf("unlock: check clip unlocked: %w", err)
	}
	if unlocked {
		res := &store.IdempotencyResult{Unlocked: true, ChargedCredits: 0, Idempotency: store.IdempotencyReplay, Status: store.IdempotencyFinal}
		if err := c.store.SetIdempotencyResult(ctx, req.UnlockRequestID, res); err != nil {
			logger.Warn("failed to persist fast-path idempotency result", "unlock_request_id", req.UnlockRequestID, "err", err)
		}
		return res, nil
	}

	// 4. Begin: set-if-absent pending marker.
	beginMark := &store.IdempotencyResult{Status: store.IdempotencyPending}
	stored, wasSet, err := c.store.SetIdempotencyResultIfAbsent(ctx, req.UnlockRequestID, beginMark)
	if err != nil {
		return nil, fmt.Errorf("unlock: begin set-if-absent: %w", err)
	}
	if !wasSet {
		if stored.Status == store.IdempotencyFinal {
			return stored, nil
		}
		return nil, ErrInProgress
	}

	wallet, err := chain.DecodePubkey(req.Wallet)
	if err != nil {
		return nil, fmt.Errorf("unlock: decode wallet: %w", err)
	}

	// 5. Funding check: always a fresh on-chain read.
	credits, err := c.credits.BalanceOfFresh(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("unlock: funding check: %w", err)
	}
	if credits < 1 {
		res := &store.IdempotencyResult{Unlocked: false, ChargedCredits: 0, Idempotency: store.IdempotencyNew, Status: store.IdempotencyFinal}
		if err := c.store.SetIdempotencyResult(ctx, req.UnlockRequestID, res); err != nil {
			return nil, fmt.Errorf("unlock: persist insufficient result: %w", err)
		}
		return nil, ErrInsufficientCredits
	}

	// 6. Submit on chain.
	txSig, err := c.credits.Consume(ctx, wallet, 1, req.UnlockRequestID)
	if err != nil {
		recheck, rcErr := c.credits.BalanceOfFresh(ctx, wallet)
		downgraded := &store.IdempotencyResult{Unlocked: false, ChargedCredits: 0, Idempotency: store.IdempotencyNew, Status: store.IdempotencyFinal}
		if persistErr := c.store.SetIdempotencyResult(ctx, req.UnlockRequestID, downgraded); persistErr != nil {
			logger.Error("failed to downgrade idempotency result after submit failure", "unlock_request_id", req.UnlockRequestID, "err", persistErr)
		}
		if rcErr == nil && recheck < 1 {
			return nil, ErrInsufficientCredits
		}
		return nil, &ErrSubmitFailed{Cause: err, StillFunded: rcErr == nil && recheck >= 1}
	}

	// 7. Record pending.
	if err := c.store.SetUnlockPending(ctx, req.UnlockRequestID, &store.UnlockPending{
		JobID:    req.JobID,
		ClipFile: req.ClipFile,
		Wallet:   req.Wallet,
		TxSig:    txSig,
	}); err != nil {
		return nil, fmt.Errorf("unlock: record pending marker: %w", err)
	}

	// 8. Commit.
	if err := c.store.SetClipUnlocked(ctx, req.JobID, req.ClipFile); err != nil {
		return nil, fmt.Errorf("unlock: commit clip unlocked: %w", err)
	}
	if err := c.store.DeleteUnlockPending(ctx, req.UnlockRequestID); err != nil {
		logger.Warn("failed to delete pending marker after commit", "unlock_request_id", req.UnlockRequestID, "err", err)
	}
	res := &store.IdempotencyResult{Unlocked: true, ChargedCredits: 1, Idempotency: store.IdempotencyNew, Status: store.IdempotencyFinal}
	if err := c.store.SetIdempotencyResult(ctx, req.UnlockRequestID, res); err != nil {
		return nil, fmt.Errorf("unlock: persist committed result: %w", err)
	}
	return res, nil
}
