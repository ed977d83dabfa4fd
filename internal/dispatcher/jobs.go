// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/kangklip/kangklip-server/internal/idgen"
	"github.com/kangklip/kangklip-server/internal/store"
)

// SubmitJobRequest is the validated body of POST /api/jobs.
type SubmitJobRequest struct {
	VideoURL         string
	ClipDurationSecs int
	ClipCount        int
	Language         string
}

// The callback URL/token and the worker env passthrough map are handed
// to NewService by the caller (cmd/kangklip-server) to keep this
// package free of config-loading concerns.

// Service orchestrates job creation end to end (§4.7): generate ids,
// persist a Queued JobRecord, optionally probe the fabric's image
// cache, submit a deployment, persist the run id, then asynchronously
// poll and start it.
type Service struct {
	store       store.Store
	fabric      *FabricClient
	workerImage string
	market      string
	callbackURL string
	callbackTok string
	passthrough map[string]string
}

// NewService builds a dispatcher Service.
func NewService(st store.Store, fabric *FabricClient, workerImage, market, callbackURL, callbackToken string, passthrough map[string]string) *Service {
	return &Service{
		store:       st,
		fabric:      fabric,
		workerImage: workerImage,
		market:      market,
		callbackURL: callbackURL,
		callbackTok: callbackToken,
		passthrough: passthrough,
	}
}

// ErrDispatchFailed indicates the fabric submission itself failed; the
// job is still recorded, status Failed, per §4.7.
type ErrDispatchFailed struct{ Cause error }

func (e *ErrDispatchFailed) Error() string { return fmt.Sprintf("dispatcher: submit failed: %v", e.Cause) }
func (e *ErrDispatchFailed) Unwrap() error  { return e.Cause }

// SubmitJob creates and dispatches a new clipping job.
func (s *Service) SubmitJob(ctx context.Context, req SubmitJobRequest) (*store.JobRecord, error) {
	jobID := idgen.NewJobID()
	jobToken, err := idgen.NewHexSecret(32)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: generate job token: %w", err)
	}

	rec := &store.JobRecord{
		JobID:            jobID,
		JobToken:         jobToken,
		Status:           store.JobQueued,
		Stage:            store.StageDownload,
		Progress:         0,
		VideoURL:         req.VideoURL,
		ClipDurationSecs: req.ClipDurationSecs,
		ClipCount:        req.ClipCount,
		Language:         req.Language,
	}
	if err := s.store.CreateJob(ctx, rec); err != nil {
		return nil, fmt.Errorf("dispatcher: persist job record: %w", err)
	}

	probe, _ := s.fabric.ProbeImageCache(ctx, s.workerImage)
	marketCache := "miss"
	if probe != nil && probe.Cached {
		marketCache = "hit"
	}

	env := s.buildEnvironment(rec)
	dep, err := s.fabric.SubmitDeployment(ctx, DeploymentRequest{
		Image:       s.workerImage,
		Market:      s.market,
		Environment: env,
	})
	if err != nil {
		_, _ = s.store.MergeJob(ctx, jobID, map[string]interface{}{
			"status": store.JobFailed,
			"error":  err.Error(),
		})
		return nil, &ErrDispatchFailed{Cause: err}
	}

	updated, err := s.store.MergeJob(ctx, jobID, map[string]interface{}{
		"run_id":       dep.RunID,
		"market_cache": marketCache,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: persist run id: %w", err)
	}

	// Fire-and-forget: start errors are persisted but never fail the
	// creation response (§4.7).
	go s.pollAndStart(context.Background(), jobID, dep.RunID)

	return updated, nil
}

func (s *Service) buildEnvironment(rec *store.JobRecord) map[string]string {
	env := map[string]string{
		"JOB_ID":             rec.JobID,
		"VIDEO_URL":          rec.VideoURL,
		"CLIP_DURATION_SECS": fmt.Sprintf("%d", rec.ClipDurationSecs),
		"CLIP_COUNT":         fmt.Sprintf("%d", rec.ClipCount),
		"LANGUAGE":           rec.Language,
		"CALLBACK_URL":       s.callbackURL,
		"CALLBACK_TOKEN":     s.callbackTok,
	}
	for k, v := range s.passthrough {
		env[k] = v
	}
	return env
}

// pollAndStart polls a deployment's preparation state up to 30 times
// at 2s intervals and issues start once it is ready (§4.7).
func (s *Service) pollAndStart(ctx context.Context, jobID, runID string) {
	for attempt := 0; attempt < 30; attempt++ {
		dep, err := s.fabric.GetDeployment(ctx, runID)
		if err != nil {
			s.recordStartError(ctx, jobID, err)
			return
		}
		if !nonTerminalPreparationStates[dep.State] {
			if dep.State == readyState {
				if err := s.fabric.StartDeployment(ctx, runID); err != nil {
					s.recordStartError(ctx, jobID, err)
				}
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
	s.recordStartError(ctx, jobID, fmt.Errorf("dispatcher: deployment %s never reached ready state", runID))
}

func (s *Service) recordStartError(ctx context.Context, jobID string, err error) {
	logger.Error("start failed", "job_id", jobID, "err", err)
	_, mergeErr := s.store.MergeJob(ctx, jobID, map[string]interface{}{
		"start_error": err.Error(),
	})
	if mergeErr != nil {
		logger.Error("failed to persist start error", "job_id", jobID, "err", mergeErr)
	}
}
