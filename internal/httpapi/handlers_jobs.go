// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package httpapi

import (
	"fmt"
	"net/http"

	"github.com/kangklip/kangklip-server/internal/dispatcher"
	"github.com/kangklip/kangklip-server/internal/metrics"
	"github.com/kangklip/kangklip-server/internal/store"
)

type createJobRequest struct {
	VideoURL         string `json:"video_url"`
	ClipDurationSecs int    `json:"clip_duration_seconds"`
	ClipCount        int    `json:"clip_count"`
	Language         string `json:"language"`
}

var validLanguages = map[string]bool{"en": true, "id": true, "auto": true}

func (req createJobRequest) validate() error {
	if req.VideoURL == "" {
		return newError(KindValidation, "video_url is required")
	}
	if req.ClipDurationSecs < 30 || req.ClipDurationSecs > 60 {
		return newError(KindValidation, "clip_duration_seconds must be between 30 and 60")
	}
	if req.ClipCount < 1 || req.ClipCount > 5 {
		return newError(KindValidation, "clip_count must be between 1 and 5")
	}
	if !validLanguages[req.Language] {
		return newError(KindValidation, "language must be one of en, id, auto")
	}
	return nil
}

func (h *handlers) createJob(w http.ResponseWriter, r *http.Request, _ routeParams) error {
	var req createJobRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	rec, err := h.deps.Dispatcher.SubmitJob(r.Context(), dispatcher.SubmitJobRequest{
		VideoURL:         req.VideoURL,
		ClipDurationSecs: req.ClipDurationSecs,
		ClipCount:        req.ClipCount,
		Language:         req.Language,
	})
	if err != nil {
		var dispatchErr *dispatcher.ErrDispatchFailed
		if asErrDispatchFailed(err, &dispatchErr) {
			metrics.JobsSubmittedTotal.WithLabelValues("dispatch_failed").Inc()
			return wrapError(KindUpstream, "dispatch failed", dispatchErr)
		}
		return wrapError(KindInternal, "create job", err)
	}
	metrics.JobsSubmittedTotal.WithLabelValues("dispatched").Inc()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":    rec.JobID,
		"job_token": rec.JobToken,
		"status":    rec.Status,
	})
	return nil
}

func asErrDispatchFailed(err error, target **dispatcher.ErrDispatchFailed) bool {
	if de, ok := err.(*dispatcher.ErrDispatchFailed); ok {
		*target = de
		return true
	}
	return false
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request, ps routeParams) error {
	jobID := ps.ByName("jobId")
	rec, err := h.deps.Store.GetJob(r.Context(), jobID)
	if err != nil {
		return jobNotFoundOrUpstream(err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":        rec.JobID,
		"status":        rec.Status,
		"stage":         rec.Stage,
		"progress":      rec.Progress,
		"start_error":   rec.StartError,
		"error":         rec.Error,
		"nosana_run_id": rec.RunID,
	})
	return nil
}

type clipResultDTO struct {
	ClipFile         string  `json:"clip_file"`
	Title            string  `json:"title"`
	Duration         float64 `json:"duration"`
	Locked           bool    `json:"locked"`
	UnlockEndpoint   string  `json:"unlock_endpoint"`
	DownloadEndpoint string  `json:"download_endpoint"`
	PreviewEndpoint  string  `json:"preview_endpoint"`
}

func (h *handlers) getResults(w http.ResponseWriter, r *http.Request, ps routeParams) error {
	jobID := ps.ByName("jobId")
	job, err := h.deps.Store.GetJob(r.Context(), jobID)
	if err != nil {
		return jobNotFoundOrUpstream(err)
	}
	if job.Status != store.JobSucceeded {
		return newError(KindConflict, "job has not succeeded")
	}

	_, clips, err := h.deps.Artifact.ListClips(r.Context(), jobID)
	if err != nil {
		return wrapError(KindInternal, "load manifest", err)
	}

	out := make([]clipResultDTO, 0, len(clips))
	for _, c := range clips {
		locked, err := h.deps.Store.IsClipUnlocked(r.Context(), jobID, c.File)
		if err != nil {
			return wrapError(KindUpstream, "check clip unlock", err)
		}
		out = append(out, clipResultDTO{
			ClipFile:         c.File,
			Title:            c.Title,
			Duration:         c.Duration,
			Locked:           !locked,
			UnlockEndpoint:   fmt.Sprintf("/api/jobs/%s/clips/%s/unlock", jobID, c.File),
			DownloadEndpoint: fmt.Sprintf("/api/jobs/%s/clips/%s/download", jobID, c.File),
			PreviewEndpoint:  fmt.Sprintf("/api/jobs/%s/clips/%s/preview", jobID, c.File),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clips": out})
	return nil
}
