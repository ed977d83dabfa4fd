// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package httpapi

import (
	"net/http"

	"github.com/kangklip/kangklip-server/internal/store"
)

type callbackRequest struct {
	JobID    string          `json:"job_id"`
	Status   store.JobStatus `json:"status"`
	Stage    store.JobStage  `json:"stage,omitempty"`
	Progress *int            `json:"progress,omitempty"`
	R2Prefix string          `json:"r2_prefix,omitempty"`
	Error    string          `json:"error,omitempty"`
}

var knownJobStatuses = map[store.JobStatus]bool{
	store.JobQueued: true, store.JobRunning: true, store.JobSucceeded: true, store.JobFailed: true,
}

func (h *handlers) callbackNosana(w http.ResponseWriter, r *http.Request, _ routeParams) error {
	var req callbackRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return err
	}
	if req.JobID == "" || !knownJobStatuses[req.Status] {
		return newError(KindValidation, "job_id and a valid status are required")
	}

	job, err := h.deps.Store.GetJob(r.Context(), req.JobID)
	if err != nil {
		return jobNotFoundOrUpstream(err)
	}
	if !job.Status.CanTransitionTo(req.Status) {
		return newError(KindValidation, "illegal status transition")
	}

	fields := map[string]interface{}{"status": req.Status}
	if req.Stage != "" {
		fields["stage"] = req.Stage
	}
	if req.Progress != nil {
		p := *req.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		fields["progress"] = p
	}
	if req.R2Prefix != "" {
		fields["r2_prefix"] = req.R2Prefix
	}
	if req.Error != "" {
		fields["error"] = req.Error
	}

	terminal := req.Status == store.JobSucceeded || req.Status == store.JobFailed
	if terminal {
		if _, ok := fields["stage"]; !ok {
			fields["stage"] = store.StageDone
		}
		if _, ok := fields["progress"]; !ok {
			fields["progress"] = 100
		}
	}

	if _, err := h.deps.Store.MergeJob(r.Context(), req.JobID, fields); err != nil {
		return wrapError(KindUpstream, "persist callback", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	return nil
}
