// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package chain encapsulates every interaction with the Solana chain:
// the JSON-RPC client, PDA/ATA derivation, Anchor instruction
// encoding, transaction signing, and the credit service built on top
// of them (§4.4).
package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	kklog "github.com/kangklip/kangklip-server/internal/log"
	"github.com/kangklip/kangklip-server/internal/metrics"
)

var logger = kklog.NewModuleLogger(kklog.ModuleChain)

// RPCClient is a thin JSON-RPC 2.0 client over a pooled HTTP
// transport, the way the teacher's fabric/RPC-style clients reuse one
// long-lived *http.Client rather than dialing per call.
type RPCClient struct {
	endpoint string
	http     *http.Client
}

// NewRPCClient builds a client against the given Solana RPC endpoint.
func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	start := time.Now()
	defer func() {
		metrics.ChainCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("chain: marshal rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chain: build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chain: rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("chain: decode rpc response for %s: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("chain: rpc error %s: %d %s", method, rr.Error.Code, rr.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("chain: decode rpc result for %s: %w", method, err)
		}
	}
	return nil
}

// callWithRetry makes up to 3 attempts at an idempotent read (the
// first call plus at most 2 retries) with jittered backoff, matching §4.4's "RPC client pooling & retry" note. Writes
// (sendTransaction, the consume_credit submit path) never go through
// this helper — the service never transparently retries chain
// mutations (§7).
func (c *RPCClient) callWithRetry(ctx context.Context, method string, params []interface{}, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(50*(1<<attempt)) * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}
		lastErr = c.call(ctx, method, params, out)
		if lastErr == nil {
			return nil
		}
		logger.Warn("rpc call failed, retrying", "method", method, "attempt", attempt, "err", lastErr)
	}
	return lastErr
}

// AccountInfoResult is the subset of getAccountInfo's response this
// service needs.
type AccountInfoResult struct {
	Value *struct {
		Data  []string `json:"data"` // [base64, "base64"]
		Owner string   `json:"owner"`
	} `json:"value"`
}

// GetAccountInfo fetches raw account bytes base64-encoded.
func (c *RPCClient) GetAccountInfo(ctx context.Context, pubkey string) ([]byte, error) {
	var res AccountInfoResult
	err := c.callWithRetry(ctx, "getAccountInfo", []interface{}{pubkey, map[string]string{"encoding": "base64"}}, &res)
	if err != nil {
		return nil, err
	}
	if res.Value == nil || len(res.Value.Data) == 0 {
		return nil, nil // account does not exist
	}
	return base64.StdEncoding.DecodeString(res.Value.Data[0])
}

// GetLatestBlockhash fetches a recent blockhash for transaction
// construction.
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) ([32]byte, error) {
	var res struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	var out [32]byte
	if err := c.callWithRetry(ctx, "getLatestBlockhash", []interface{}{map[string]string{"commitment": "confirmed"}}, &res); err != nil {
		return out, err
	}
	key, err := DecodePubkey(res.Value.Blockhash)
	if err != nil {
		return out, fmt.Errorf("chain: decode blockhash: %w", err)
	}
	return key, nil
}

// SendTransaction submits a raw base64-encoded transaction and returns
// its signature. Never retried transparently.
func (c *RPCClient) SendTransaction(ctx context.Context, base64Tx string) (string, error) {
	var sig string
	err := c.call(ctx, "sendTransaction", []interface{}{base64Tx, map[string]interface{}{
		"encoding":   "base64",
		"skipPreflight": false,
	}}, &sig)
	return sig, err
}

// SignatureStatus reports the confirmation state of a submitted
// transaction.
type SignatureStatus struct {
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                 json.RawMessage `json:"err"`
}

// GetSignatureStatuses polls confirmation state for the given
// signatures.
func (c *RPCClient) GetSignatureStatuses(ctx context.Context, sigs []string) ([]*SignatureStatus, error) {
	var res struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := c.callWithRetry(ctx, "getSignatureStatuses", []interface{}{sigs, map[string]bool{"searchTransactionHistory": true}}, &res); err != nil {
		return nil, err
	}
	return res.Value, nil
}

// ConfirmTransaction polls getSignatureStatuses until the given
// signature reaches "confirmed" commitment or ctx is done. Any err
// field present in the confirmation result is a hard failure (§4.4).
func (c *RPCClient) ConfirmTransaction(ctx context.Context, sig string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		statuses, err := c.GetSignatureStatuses(ctx, []string{sig})
		if err != nil {
			return err
		}
		if len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if len(st.Err) > 0 && string(st.Err) != "null" {
				return fmt.Errorf("chain: transaction %s failed: %s", sig, string(st.Err))
			}
			if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("chain: confirmation deadline exceeded for %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ParsedInstructionRef is the minimal shape of an instruction within a
// getTransaction response needed to scan for program invocation.
type ParsedInstructionRef struct {
	ProgramID string `json:"programId"`
	Program   string `json:"program"`
}

// ParsedTransactionResult is the subset of getTransaction's response
// this service needs to confirm a topup.
type ParsedTransactionResult struct {
	Meta *struct {
		Err           json.RawMessage `json:"err"`
		InnerInstructions []struct {
			Instructions []ParsedInstructionRef `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
	Transaction *struct {
		Message struct {
			Instructions []ParsedInstructionRef `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetTransaction fetches a parsed transaction by signature.
func (c *RPCClient) GetTransaction(ctx context.Context, sig string) (*ParsedTransactionResult, error) {
	var res ParsedTransactionResult
	err := c.callWithRetry(ctx, "getTransaction", []interface{}{sig, map[string]interface{}{
		"encoding":                       "jsonParsed",
		"maxSupportedTransactionVersion": 0,
	}}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// InvokesProgram scans outer and inner instructions for a reference to
// the given program id, by either the "programId" field (raw) or
// "program" field (parsed-program name is not sufficient on its own,
// so this only matches the address form).
func (tx *ParsedTransactionResult) InvokesProgram(programID string) bool {
	if tx.Transaction != nil {
		for _, ix := range tx.Transaction.Message.Instructions {
			if ix.ProgramID == programID {
				return true
			}
		}
	}
	if tx.Meta != nil {
		for _, inner := range tx.Meta.InnerInstructions {
			for _, ix := range inner.Instructions {
				if ix.ProgramID == programID {
					return true
				}
			}
		}
	}
	return false
}
