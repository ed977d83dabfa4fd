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

	"github.com/kangklip/kangklip-server/internal/auth"
)

type challengeRequest struct {
	WalletAddress string `json:"wallet_address"`
}

func (h *handlers) authChallenge(w http.ResponseWriter, r *http.Request, _ routeParams) error {
	var req challengeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return err
	}
	ch, err := h.deps.Auth.IssueChallenge(r.Context(), req.WalletAddress)
	if err != nil {
		if err == auth.ErrInvalidWallet {
			return newError(KindValidation, "invalid wallet address")
		}
		return wrapError(KindUpstream, "issue challenge", err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"challenge":  ch.Challenge,
		"nonce":      ch.Nonce,
		"expires_in": 300,
	})
	return nil
}

type verifyRequest struct {
	WalletAddress string `json:"wallet_address"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
}

func (h *handlers) authVerify(w http.ResponseWriter, r *http.Request, _ routeParams) error {
	var req verifyRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return err
	}
	if req.WalletAddress == "" || req.Nonce == "" || req.Signature == "" {
		return newError(KindValidation, "wallet_address, nonce, and signature are required")
	}
	res, err := h.deps.Auth.Verify(r.Context(), req.WalletAddress, req.Nonce, req.Signature)
	if err != nil {
		switch err {
		case auth.ErrInvalidWallet:
			return newError(KindValidation, "invalid wallet address")
		case auth.ErrBadSignature:
			return newError(KindUnauthorized, "signature verification failed")
		case auth.ErrNonceNotFound, auth.ErrWalletMismatch:
			return newError(KindValidation, "challenge not found, expired, or wallet mismatch")
		}
		return wrapError(KindUpstream, "verify signature", err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"auth_token": res.Token,
		"expires_in": 86400,
	})
	return nil
}
