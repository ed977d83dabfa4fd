// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package dispatcher submits and starts GPU runs on the external
// execution fabric (§4.7) and orchestrates job creation end to end.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	kklog "github.com/kangklip/kangklip-server/internal/log"
)

var logger = kklog.NewModuleLogger(kklog.ModuleDispatcher)

// FabricClient is a REST client for the external GPU execution fabric
// named NOSANA_* in §6.
type FabricClient struct {
	apiBase string
	apiKey  string
	market  string
	http    *http.Client
}

// NewFabricClient builds a client against the fabric's API base.
func NewFabricClient(apiBase, apiKey, market string) *FabricClient {
	return &FabricClient{
		apiBase: apiBase,
		apiKey:  apiKey,
		market:  market,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *FabricClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("dispatcher: marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return fmt.Errorf("dispatcher: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dispatcher: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("dispatcher: %s %s returned status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("dispatcher: decode response for %s %s: %w", method, path, err)
		}
	}
	return nil
}

// ProbeCacheResult reports whether the fabric already has the worker
// image warm, purely advisory per Open Question (b) in §9.
type ProbeCacheResult struct {
	Cached bool `json:"cached"`
}

// ProbeImageCache is the advisory cache probe of §4.7; its result never
// gates submission.
func (c *FabricClient) ProbeImageCache(ctx context.Context, image string) (*ProbeCacheResult, error) {
	var res ProbeCacheResult
	if err := c.do(ctx, http.MethodGet, "/cache/probe?image="+image, nil, &res); err != nil {
		logger.Warn("cache probe failed, proceeding without it", "image", image, "err", err)
		return &ProbeCacheResult{Cached: false}, nil
	}
	return &res, nil
}

// DeploymentRequest is the submission payload for a one-replica job
// deployment.
type DeploymentRequest struct {
	Image       string            `json:"image"`
	Market      string            `json:"market,omitempty"`
	Environment map[string]string `json:"environment"`
}

// Deployment is the fabric's view of a submitted run.
type Deployment struct {
	RunID string `json:"run_id"`
	State string `json:"state"` // e.g. PREPARING, RUNNING, STOPPED
}

// SubmitDeployment submits a one-replica deployment and returns its
// run id.
func (c *FabricClient) SubmitDeployment(ctx context.Context, req DeploymentRequest) (*Deployment, error) {
	var dep Deployment
	if err := c.do(ctx, http.MethodPost, "/deployments", req, &dep); err != nil {
		return nil, err
	}
	return &dep, nil
}

// GetDeployment polls deployment state.
func (c *FabricClient) GetDeployment(ctx context.Context, runID string) (*Deployment, error) {
	var dep Deployment
	if err := c.do(ctx, http.MethodGet, "/deployments/"+runID, nil, &dep); err != nil {
		return nil, err
	}
	return &dep, nil
}

// StartDeployment issues the start command once a deployment's
// preparation has completed.
func (c *FabricClient) StartDeployment(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/deployments/"+runID+"/start", nil, nil)
}

// nonTerminalPreparationStates are the deployment states the async
// start-poller keeps waiting through.
var nonTerminalPreparationStates = map[string]bool{
	"PREPARING": true,
	"PULLING":   true,
	"QUEUED":    true,
}

// readyState is the state that allows issuing start.
const readyState = "READY"
