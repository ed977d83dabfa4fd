// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package artifact gates per-clip access (§4.6): resolving a clip
// against the job's manifest, then minting preview/download URLs or
// proxying a ranged read according to unlock state.
package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/kangklip/kangklip-server/internal/objectstore"
	"github.com/kangklip/kangklip-server/internal/store"
)

const (
	previewURLTTL  = 600 * time.Second
	downloadURLTTL = 86400 * time.Second
)

// Gate resolves clips against a job's manifest and mints time-limited
// URLs or range-proxied reads for them.
type Gate struct {
	store   store.Store
	objects *objectstore.Client
}

// NewGate builds an artifact Gate.
func NewGate(st store.Store, objects *objectstore.Client) *Gate {
	return &Gate{store: st, objects: objects}
}

// ErrJobNotReady means the job has not yet reached Succeeded or has no
// r2Prefix recorded.
var ErrJobNotReady = fmt.Errorf("artifact: job not ready")

// ErrClipNotFound means clipFile is not a member of the job's
// manifest (I7).
var ErrClipNotFound = fmt.Errorf("artifact: clip not found in manifest")

// ErrLocked means a download or range read was requested for a clip
// that has not been unlocked.
var ErrLocked = fmt.Errorf("artifact: clip locked")

// resolvedClip is the outcome of validating a (jobId, clipFile) pair
// against the job's manifest.
type resolvedClip struct {
	job      *store.JobRecord
	manifest *objectstore.Manifest
}

func (g *Gate) resolve(ctx context.Context, jobID, clipFile string) (*resolvedClip, error) {
	job, err := g.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != store.JobSucceeded || job.R2Prefix == "" {
		return nil, ErrJobNotReady
	}
	manifest, err := g.objects.LoadManifest(ctx, job.R2Prefix)
	if err != nil {
		return nil, err
	}
	found := false
	for _, c := range manifest.Clips {
		if c.File == clipFile {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrClipNotFound
	}
	return &resolvedClip{job: job, manifest: manifest}, nil
}

// ListClips resolves the job and returns its manifest clips, used by
// the results endpoint to enumerate all clips at once.
func (g *Gate) ListClips(ctx context.Context, jobID string) (*store.JobRecord, []objectstore.ManifestClip, error) {
	job, err := g.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != store.JobSucceeded || job.R2Prefix == "" {
		return nil, nil, ErrJobNotReady
	}
	manifest, err := g.objects.LoadManifest(ctx, job.R2Prefix)
	if err != nil {
		return nil, nil, err
	}
	return job, manifest.Clips, nil
}

// PreviewURL mints a short-lived, unlock-independent preview URL.
func (g *Gate) PreviewURL(ctx context.Context, jobID, clipFile string) (string, error) {
	rc, err := g.resolve(ctx, jobID, clipFile)
	if err != nil {
		return "", err
	}
	return g.objects.PresignGET(rc.job.R2Prefix, clipFile, previewURLTTL)
}

// DownloadURL mints a day-long download URL, refusing clips that have
// not been unlocked.
func (g *Gate) DownloadURL(ctx context.Context, jobID, clipFile string) (string, error) {
	rc, err := g.resolve(ctx, jobID, clipFile)
	if err != nil {
		return "", err
	}
	unlocked, err := g.store.IsClipUnlocked(ctx, jobID, clipFile)
	if err != nil {
		return "", fmt.Errorf("artifact: check unlock: %w", err)
	}
	if !unlocked {
		return "", ErrLocked
	}
	return g.objects.PresignGET(rc.job.R2Prefix, clipFile, downloadURLTTL)
}

// RangeGet proxies a ranged read of an unlocked clip.
func (g *Gate) RangeGet(ctx context.Context, jobID, clipFile, rangeHeader string) (*objectstore.RangeGetResult, error) {
	rc, err := g.resolve(ctx, jobID, clipFile)
	if err != nil {
		return nil, err
	}
	unlocked, err := g.store.IsClipUnlocked(ctx, jobID, clipFile)
	if err != nil {
		return nil, fmt.Errorf("artifact: check unlock: %w", err)
	}
	if !unlocked {
		return nil, ErrLocked
	}
	return g.objects.RangeGet(ctx, rc.job.R2Prefix, clipFile, rangeHeader)
}
