// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package auth implements the wallet-signature login flow of §4.3:
// a challenge/nonce handshake followed by Ed25519 verification of the
// wallet's detached signature over the challenge string.
package auth

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/kangklip/kangklip-server/internal/chain"
	kklog "github.com/kangklip/kangklip-server/internal/log"
	"github.com/kangklip/kangklip-server/internal/idgen"
	"github.com/kangklip/kangklip-server/internal/store"
)

var logger = kklog.NewModuleLogger(kklog.ModuleAuth)

// Service issues and verifies wallet-auth challenges.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService builds an auth Service.
func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// ErrInvalidWallet means the supplied wallet does not decode to a
// valid Solana public key.
var ErrInvalidWallet = fmt.Errorf("auth: invalid wallet address")

// ErrNonceNotFound means no pending challenge exists for this nonce
// (never issued, already consumed, or evicted by TTL).
var ErrNonceNotFound = fmt.Errorf("auth: challenge not found or expired")

// ErrWalletMismatch means the verify request's wallet does not match
// the wallet the challenge was issued for.
var ErrWalletMismatch = fmt.Errorf("auth: wallet does not match challenge")

// ErrBadSignature means the Ed25519 signature did not verify over the
// stored challenge string.
var ErrBadSignature = fmt.Errorf("auth: signature verification failed")

// Challenge is the response to POST /api/auth/challenge.
type Challenge struct {
	Nonce     string
	Challenge string
	ExpiresAt time.Time
}

// IssueChallenge validates the wallet, mints a random nonce, and
// persists the composed challenge string for TTLAuthNonce (§4.3).
func (s *Service) IssueChallenge(ctx context.Context, wallet string) (*Challenge, error) {
	if _, err := chain.DecodePubkey(wallet); err != nil {
		return nil, ErrInvalidWallet
	}
	nonce, err := idgen.NewHexSecret(32)
	if err != nil {
		return nil, fmt.Errorf("auth: generate nonce: %w", err)
	}
	now := s.now().UTC()
	challengeStr := fmt.Sprintf("KANGKLIP_AUTH:%s:%s:%d", wallet, nonce, now.Unix())
	expiresAt := now.Add(store.TTLAuthNonce)

	if err := s.store.SetAuthNonce(ctx, nonce, &store.AuthNonce{
		Wallet:    wallet,
		Challenge: challengeStr,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("auth: persist nonce: %w", err)
	}

	return &Challenge{Nonce: nonce, Challenge: challengeStr, ExpiresAt: expiresAt}, nil
}

// VerifyResult is the response to POST /api/auth/verify.
type VerifyResult struct {
	Token     string
	ExpiresAt time.Time
}

// Verify checks the wallet's detached signature over the persisted
// challenge string, consumes the nonce, and mints an auth token valid
// for TTLAuthToken (§4.3).
func (s *Service) Verify(ctx context.Context, wallet, nonce, signatureB58 string) (*VerifyResult, error) {
	pub, err := chain.DecodePubkey(wallet)
	if err != nil {
		return nil, ErrInvalidWallet
	}

	n, err := s.store.GetAuthNonce(ctx, nonce)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrNonceNotFound
		}
		return nil, fmt.Errorf("auth: load nonce: %w", err)
	}
	if n.Wallet != wallet {
		return nil, ErrWalletMismatch
	}
	if s.now().UTC().After(n.ExpiresAt) {
		_ = s.store.DeleteAuthNonce(ctx, nonce)
		return nil, ErrNonceNotFound
	}

	sig, err := chain.DecodeSignature(signatureB58)
	if err != nil {
		return nil, ErrBadSignature
	}
	if !ed25519.Verify(pub[:], []byte(n.Challenge), sig[:]) {
		return nil, ErrBadSignature
	}

	// One-shot: the nonce cannot be replayed once verified.
	if err := s.store.DeleteAuthNonce(ctx, nonce); err != nil {
		logger.Warn("failed to delete consumed nonce", "nonce", nonce, "err", err)
	}

	token, err := idgen.NewHexSecret(32)
	if err != nil {
		return nil, fmt.Errorf("auth: generate token: %w", err)
	}
	if err := s.store.SetAuthToken(ctx, token, wallet); err != nil {
		return nil, fmt.Errorf("auth: persist token: %w", err)
	}

	return &VerifyResult{Token: token, ExpiresAt: s.now().UTC().Add(store.TTLAuthToken)}, nil
}

// ErrTokenNotFound means the bearer auth token is absent or expired.
var ErrTokenNotFound = fmt.Errorf("auth: token not found or expired")

// WalletForToken resolves a bearer auth token to the wallet it was
// issued for, used by the auth-token gate middleware.
func (s *Service) WalletForToken(ctx context.Context, token string) (string, error) {
	wallet, err := s.store.GetAuthToken(ctx, token)
	if err != nil {
		if err == store.ErrNotFound {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("auth: load token: %w", err)
	}
	return wallet, nil
}
