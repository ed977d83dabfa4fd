// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/kangklip/kangklip-server/internal/artifact"
	"github.com/kangklip/kangklip-server/internal/metrics"
	"github.com/kangklip/kangklip-server/internal/objectstore"
	"github.com/kangklip/kangklip-server/internal/unlock"
)

func artifactErrorKind(err error) (Kind, string) {
	if errors.Is(err, objectstore.ErrManifestNotFound) {
		return KindInternal, "manifest missing"
	}
	switch err {
	case artifact.ErrJobNotReady:
		return KindInternal, "job has no artifacts yet"
	case artifact.ErrClipNotFound:
		return KindNotFound, "clip not found"
	case artifact.ErrLocked:
		return KindForbidden, "locked"
	default:
		return KindUpstream, "load artifact"
	}
}

func (h *handlers) clipPreview(w http.ResponseWriter, r *http.Request, ps routeParams) error {
	jobID, clipFile := ps.ByName("jobId"), ps.ByName("clipFile")
	url, err := h.deps.Artifact.PreviewURL(r.Context(), jobID, clipFile)
	if err != nil {
		kind, msg := artifactErrorKind(err)
		return wrapError(kind, msg, err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"url": url, "expires_in": 600})
	return nil
}

func (h *handlers) clipDownload(w http.ResponseWriter, r *http.Request, ps routeParams) error {
	jobID, clipFile := ps.ByName("jobId"), ps.ByName("clipFile")
	url, err := h.deps.Artifact.DownloadURL(r.Context(), jobID, clipFile)
	if err != nil {
		kind, msg := artifactErrorKind(err)
		return wrapError(kind, msg, err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"url": url, "expires_in": 86400})
	return nil
}

// clipStream is the optional range-proxy passthrough of §4.6.
func (h *handlers) clipStream(w http.ResponseWriter, r *http.Request, ps routeParams) error {
	jobID, clipFile := ps.ByName("jobId"), ps.ByName("clipFile")
	res, err := h.deps.Artifact.RangeGet(r.Context(), jobID, clipFile, r.Header.Get("Range"))
	if err != nil {
		kind, msg := artifactErrorKind(err)
		return wrapError(kind, msg, err)
	}
	defer res.Body.Close()

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if res.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}
	if res.Partial {
		w.Header().Set("Content-Range", res.ContentRange)
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if _, err := io.Copy(w, res.Body); err != nil {
		logger.Warn("range proxy copy interrupted", "job_id", jobID, "clip_file", clipFile, "err", err)
	}
	return nil
}

type unlockRequest struct {
	UnlockRequestID string `json:"unlock_request_id"`
}

func (h *handlers) clipUnlock(w http.ResponseWriter, r *http.Request, ps routeParams) error {
	jobID, clipFile := ps.ByName("jobId"), ps.ByName("clipFile")
	var req unlockRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return err
	}
	if req.UnlockRequestID == "" || len(req.UnlockRequestID) > 128 {
		return newError(KindValidation, "unlock_request_id must be 1..128 characters")
	}
	wallet := walletFromContext(r)

	res, err := h.deps.Unlock.Unlock(r.Context(), unlock.Request{
		JobID:           jobID,
		ClipFile:        clipFile,
		Wallet:          wallet,
		UnlockRequestID: req.UnlockRequestID,
	})
	if err != nil {
		switch err {
		case unlock.ErrInsufficientCredits:
			metrics.UnlocksTotal.WithLabelValues("insufficient").Inc()
			return newError(KindPaymentRequired, "insufficient on-chain credits")
		case unlock.ErrInProgress:
			metrics.UnlocksTotal.WithLabelValues("in_progress").Inc()
			return newError(KindConflict, "unlock already in progress for this request id")
		}
		if _, ok := err.(*unlock.ErrSubmitFailed); ok {
			metrics.UnlocksTotal.WithLabelValues("upstream_error").Inc()
			return wrapError(KindUpstream, "chain submission failed", err)
		}
		return wrapError(KindInternal, "unlock", err)
	}

	outcome := "replay"
	if res.Idempotency == "NEW" {
		outcome = "new"
	}
	metrics.UnlocksTotal.WithLabelValues(outcome).Inc()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":          jobID,
		"clip_file":       clipFile,
		"unlocked":        res.Unlocked,
		"charged_credits": res.ChargedCredits,
		"idempotency":     res.Idempotency,
	})
	return nil
}
