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

	"github.com/kangklip/kangklip-server/internal/chain"
)

func (h *handlers) creditsBalance(w http.ResponseWriter, r *http.Request, _ routeParams) error {
	wallet, err := chain.DecodePubkey(walletFromContext(r))
	if err != nil {
		return wrapError(KindInternal, "decode wallet bound to auth token", err)
	}
	credits, err := h.deps.Credits.BalanceOf(r.Context(), wallet)
	if err != nil {
		return wrapError(KindUpstream, "read on-chain balance", err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"credits": credits})
	return nil
}

type topupIntentRequest struct {
	CreditsToBuy int64 `json:"credits_to_buy"`
}

func (h *handlers) topupIntent(w http.ResponseWriter, r *http.Request, _ routeParams) error {
	var req topupIntentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return err
	}
	wallet, err := chain.DecodePubkey(walletFromContext(r))
	if err != nil {
		return wrapError(KindInternal, "decode wallet bound to auth token", err)
	}
	intent, err := h.deps.Credits.BuildTopupIntent(wallet, req.CreditsToBuy)
	if err != nil {
		return newError(KindValidation, "credits_to_buy must be a positive integer")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"program_id":         intent.ProgramID,
		"config_pda":         intent.ConfigPDA,
		"user_credit_pda":    intent.UserCreditPDA,
		"vault_ata":          intent.VaultATA,
		"user_ata":           intent.UserATA,
		"mint":               intent.Mint,
		"instruction_data":   intent.InstructionData,
		"amount_base_units":  intent.AmountBaseUnits,
		"credit_unit":        intent.CreditUnit,
	})
	return nil
}

type topupConfirmRequest struct {
	Signature string `json:"signature"`
}

func (h *handlers) topupConfirm(w http.ResponseWriter, r *http.Request, _ routeParams) error {
	var req topupConfirmRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return err
	}
	if req.Signature == "" {
		return newError(KindValidation, "signature is required")
	}
	wallet, err := chain.DecodePubkey(walletFromContext(r))
	if err != nil {
		return wrapError(KindInternal, "decode wallet bound to auth token", err)
	}

	alreadyMarked, err := h.deps.Store.MarkTopupSignature(r.Context(), req.Signature)
	if err != nil {
		return wrapError(KindUpstream, "mark topup signature", err)
	}
	if alreadyMarked {
		balance, err := h.deps.Credits.BalanceOfFresh(r.Context(), wallet)
		if err != nil {
			return wrapError(KindUpstream, "read on-chain balance", err)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"credited": true, "new_balance": balance})
		return nil
	}

	balance, err := h.deps.Credits.ConfirmTopup(r.Context(), wallet, req.Signature)
	if err != nil {
		switch err {
		case chain.ErrTopupTxFailed, chain.ErrTopupWrongProgram:
			return wrapError(KindValidation, "topup transaction invalid", err)
		}
		return wrapError(KindUpstream, "confirm topup", err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"credited": true, "new_balance": balance})
	return nil
}
