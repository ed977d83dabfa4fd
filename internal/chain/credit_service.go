// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package chain

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ed25519"
)

// CreditUnit is the fixed exchange rate: 1 credit = 10^5 base units of
// the configured stablecoin mint.
const CreditUnit = 100000

// userCreditDiscriminator is the Anchor account-type tag for the
// UserCredit account, sha256("account:UserCredit")[0:8].
var userCreditDiscriminator = AccountDiscriminator("UserCredit")

// CreditService encapsulates every on-chain interaction named in §4.4.
type CreditService struct {
	rpc         *RPCClient
	programID   [32]byte
	mint        [32]byte
	treasury    [32]byte
	spender     ed25519.PrivateKey

	mu          sync.Mutex
	balanceCache map[[32]byte]cachedBalance
}

type cachedBalance struct {
	credits   uint64
	expiresAt time.Time
}

// NewCreditService wires the chain RPC client together with the
// credits-program configuration and the spender signing key.
func NewCreditService(rpc *RPCClient, programID, mint, treasury [32]byte, spender ed25519.PrivateKey) *CreditService {
	return &CreditService{
		rpc:          rpc,
		programID:    programID,
		mint:         mint,
		treasury:     treasury,
		spender:      spender,
		balanceCache: make(map[[32]byte]cachedBalance),
	}
}

func userCreditPDA(programID, wallet [32]byte) ([32]byte, error) {
	addr, _, err := FindProgramAddress([][]byte{[]byte("credit"), wallet[:]}, programID)
	return addr, err
}

func configPDA(programID, authority [32]byte) ([32]byte, error) {
	addr, _, err := FindProgramAddress([][]byte{[]byte("config"), authority[:]}, programID)
	return addr, err
}

// BalanceOf reads the on-chain UserCredit PDA for wallet and returns
// its credits field, applying the account-discriminator and
// stored-owner checks of §4.4. A cached value up to 2s old may be
// returned; callers on the unlock funding-check path must bypass the
// cache (see BalanceOfFresh).
func (c *CreditService) BalanceOf(ctx context.Context, wallet [32]byte) (uint64, error) {
	c.mu.Lock()
	if cached, ok := c.balanceCache[wallet]; ok && time.Now().Before(cached.expiresAt) {
		c.mu.Unlock()
		return cached.credits, nil
	}
	c.mu.Unlock()

	credits, err := c.BalanceOfFresh(ctx, wallet)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.balanceCache[wallet] = cachedBalance{credits: credits, expiresAt: time.Now().Add(2 * time.Second)}
	c.mu.Unlock()
	return credits, nil
}

// BalanceOfFresh always reads through to the chain, bypassing the
// short process-local balance cache.
func (c *CreditService) BalanceOfFresh(ctx context.Context, wallet [32]byte) (uint64, error) {
	pda, err := userCreditPDA(c.programID, wallet)
	if err != nil {
		return 0, fmt.Errorf("chain: derive user credit pda: %w", err)
	}
	data, err := c.rpc.GetAccountInfo(ctx, EncodePubkey(pda))
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	if len(data) < 48 {
		return 0, nil
	}
	if string(data[0:8]) != string(userCreditDiscriminator) {
		return 0, fmt.Errorf("chain: unexpected account discriminator for %s", EncodePubkey(pda))
	}
	var owner [32]byte
	copy(owner[:], data[8:40])
	if owner != wallet {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(data[40:48]), nil
}

// TopupIntent is the response payload for POST
// /api/credits/topup/usdc/intent.
type TopupIntent struct {
	ProgramID       string
	ConfigPDA       string
	UserCreditPDA   string
	VaultATA        string
	UserATA         string
	Mint            string
	InstructionData string // base64
	AmountBaseUnits uint64
	CreditUnit      int
}

// BuildTopupIntent derives every address a pay_usdc instruction needs
// and encodes its instruction data, without submitting anything.
func (c *CreditService) BuildTopupIntent(wallet [32]byte, creditsToBuy int64) (*TopupIntent, error) {
	if creditsToBuy <= 0 {
		return nil, fmt.Errorf("chain: credits_to_buy must be positive, got %d", creditsToBuy)
	}
	amount := uint64(creditsToBuy) * CreditUnit

	authority := c.treasury
	config, err := configPDA(c.programID, authority)
	if err != nil {
		return nil, fmt.Errorf("chain: derive config pda: %w", err)
	}
	userCredit, err := userCreditPDA(c.programID, wallet)
	if err != nil {
		return nil, fmt.Errorf("chain: derive user credit pda: %w", err)
	}
	vaultATA, err := DeriveAssociatedTokenAddress(config, c.mint)
	if err != nil {
		return nil, fmt.Errorf("chain: derive vault ata: %w", err)
	}
	userATA, err := DeriveAssociatedTokenAddress(wallet, c.mint)
	if err != nil {
		return nil, fmt.Errorf("chain: derive user ata: %w", err)
	}

	ix := BuildPayUSDCInstruction(c.programID, config, vaultATA, userATA, wallet, TokenProgramID, amount)

	return &TopupIntent{
		ProgramID:       EncodePubkey(c.programID),
		ConfigPDA:       EncodePubkey(config),
		UserCreditPDA:   EncodePubkey(userCredit),
		VaultATA:        EncodePubkey(vaultATA),
		UserATA:         EncodePubkey(userATA),
		Mint:            EncodePubkey(c.mint),
		InstructionData: base64.StdEncoding.EncodeToString(ix.Data),
		AmountBaseUnits: amount,
		CreditUnit:      CreditUnit,
	}, nil
}

// ErrTopupTxFailed means the referenced transaction carries a meta.err.
var ErrTopupTxFailed = fmt.Errorf("chain: topup transaction failed on chain")

// ErrTopupWrongProgram means the referenced transaction never invoked
// the credits program.
var ErrTopupWrongProgram = fmt.Errorf("chain: topup transaction did not invoke the credits program")

// ConfirmTopup fetches the parsed transaction for sig, verifies it
// succeeded and invoked the credits program, and returns the fresh
// on-chain balance. The signature itself is marked set-once by the
// caller (store.MarkTopupSignature) before this is invoked, so this
// method does not re-check that.
func (c *CreditService) ConfirmTopup(ctx context.Context, wallet [32]byte, sig string) (uint64, error) {
	tx, err := c.rpc.GetTransaction(ctx, sig)
	if err != nil {
		return 0, err
	}
	if tx.Meta != nil && len(tx.Meta.Err) > 0 && string(tx.Meta.Err) != "null" {
		return 0, ErrTopupTxFailed
	}
	if !tx.InvokesProgram(EncodePubkey(c.programID)) {
		return 0, ErrTopupWrongProgram
	}
	return c.BalanceOfFresh(ctx, wallet)
}

// ErrConsumeFailed wraps a hard failure from the consume_credit
// submit-and-confirm path (submission error or a confirmed-but-failed
// transaction).
type ErrConsumeFailed struct{ Cause error }

func (e *ErrConsumeFailed) Error() string { return fmt.Sprintf("chain: consume_credit failed: %v", e.Cause) }
func (e *ErrConsumeFailed) Unwrap() error { return e.Cause }

// Consume submits a consume_credit instruction spending amount credits
// from wallet's UserCredit PDA, optionally preceded by a Memo
// instruction, fee-paid and signed by the service's spender key, and
// blocks until confirmed. Returns the transaction signature on
// success.
func (c *CreditService) Consume(ctx context.Context, wallet [32]byte, amount uint64, memo string) (string, error) {
	config, err := configPDA(c.programID, c.treasury)
	if err != nil {
		return "", fmt.Errorf("chain: derive config pda: %w", err)
	}
	userCredit, err := userCreditPDA(c.programID, wallet)
	if err != nil {
		return "", fmt.Errorf("chain: derive user credit pda: %w", err)
	}
	spenderPub := PublicKeyOf(c.spender)

	instrs := []Instruction{}
	if memo != "" {
		instrs = append(instrs, BuildMemoInstruction(memo))
	}
	instrs = append(instrs, BuildConsumeCreditInstruction(c.programID, spenderPub, config, wallet, userCredit, amount))

	blockhash, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", &ErrConsumeFailed{Cause: err}
	}
	raw, _, err := BuildAndSignTransaction(c.spender, blockhash, instrs)
	if err != nil {
		return "", &ErrConsumeFailed{Cause: err}
	}

	sig, err := c.rpc.SendTransaction(ctx, EncodeTransactionBase64(raw))
	if err != nil {
		return "", &ErrConsumeFailed{Cause: err}
	}

	if err := c.rpc.ConfirmTransaction(ctx, sig); err != nil {
		return sig, &ErrConsumeFailed{Cause: err}
	}
	return sig, nil
}
