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
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	s, err := NewRedisStore(fmt.Sprintf("redis://%s", mr.Addr()))
	require.NoError(t, err)
	return s
}

func TestJobRecordCreateGetMerge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := &JobRecord{JobID: "kk_test1", JobToken: "abc", Status: JobQueued, Stage: StageDownload}
	require.NoError(t, s.CreateJob(ctx, rec))

	got, err := s.GetJob(ctx, "kk_test1")
	require.NoError(t, err)
	require.Equal(t, JobQueued, got.Status)

	merged, err := s.MergeJob(ctx, "kk_test1", map[string]interface{}{
		"status":   JobRunning,
		"stage":    JobStage(StageTranscript),
		"progress": 10,
	})
	require.NoError(t, err)
	require.Equal(t, JobRunning, merged.Status)
	require.Equal(t, StageTranscript, merged.Stage)
	require.Equal(t, 10, merged.Progress)

	// Job token must survive an unrelated merge (last-writer-wins per field).
	require.Equal(t, "abc", merged.JobToken)
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetJob(context.Background(), "kk_missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTryConsumeCreditSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const wallet = "walletA"
	const jobID = "kk_job1"
	const clip = "clip1.mp4"

	var wg sync.WaitGroup
	results := make([]*ConsumeOutcome, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := s.TryConsumeCredit(ctx, jobID, clip, wallet, fmt.Sprintf("req-%d", i), 1, 300)
			require.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	charged := 0
	for _, r := range results {
		require.NotNil(t, r)
		require.False(t, r.InsufficientCredits, "single available credit must satisfy at least one request")
		if r.Result.ChargedCredits == 1 {
			charged++
		}
	}
	require.Equal(t, 1, charged, "at most one request may charge a credit (P1)")

	unlocked, err := s.IsClipUnlocked(ctx, jobID, clip)
	require.NoError(t, err)
	require.True(t, unlocked)
}

func TestTryConsumeCreditReplay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	out1, err := s.TryConsumeCredit(ctx, "kk_job2", "clip.mp4", "walletB", "req-1", 1, 300)
	require.NoError(t, err)
	require.Equal(t, 1, out1.Result.ChargedCredits)
	require.Equal(t, IdempotencyNew, out1.Result.Idempotency)

	out2, err := s.TryConsumeCredit(ctx, "kk_job2", "clip.mp4", "walletB", "req-1", 1, 300)
	require.NoError(t, err)
	require.Equal(t, out1.Result.ChargedCredits, out2.Result.ChargedCredits)
	require.Equal(t, IdempotencyReplay, out2.Result.Idempotency)
}

func TestTryConsumeCreditInsufficient(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	out, err := s.TryConsumeCredit(ctx, "kk_job3", "clip.mp4", "walletC", "req-1", 0, 300)
	require.NoError(t, err)
	require.True(t, out.InsufficientCredits)

	unlocked, err := s.IsClipUnlocked(ctx, "kk_job3", "clip.mp4")
	require.NoError(t, err)
	require.False(t, unlocked)
}

func TestTopupSignatureSetOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	already, err := s.MarkTopupSignature(ctx, "sig1")
	require.NoError(t, err)
	require.False(t, already)

	already, err = s.MarkTopupSignature(ctx, "sig1")
	require.NoError(t, err)
	require.True(t, already)
}

func TestJobStatusTransitions(t *testing.T) {
	require.True(t, JobQueued.CanTransitionTo(JobRunning))
	require.True(t, JobRunning.CanTransitionTo(JobSucceeded))
	require.True(t, JobRunning.CanTransitionTo(JobFailed))
	require.False(t, JobSucceeded.CanTransitionTo(JobRunning))
	require.False(t, JobFailed.CanTransitionTo(JobRunning))
	require.False(t, JobQueued.CanTransitionTo(JobFailed)) // must pass through Running
}
