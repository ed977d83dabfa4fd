// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package chain

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/ed25519"
)

// BuildAndSignTransaction compiles the given instructions against a
// recent blockhash with the spender key as sole fee-payer and signer,
// and returns the raw wire-format transaction bytes plus its
// signature, base58/base64 usable directly as the sendTransaction
// payload.
func BuildAndSignTransaction(signer ed25519.PrivateKey, blockhash [32]byte, instrs []Instruction) (raw []byte, signature [64]byte, err error) {
	feePayer := PublicKeyOf(signer)
	msg, _, err := CompileMessage(feePayer, blockhash, instrs)
	if err != nil {
		return nil, signature, fmt.Errorf("chain: compile message: %w", err)
	}

	sig := ed25519.Sign(signer, msg)
	copy(signature[:], sig)

	var buf bytes.Buffer
	buf.Write(encodeShortVecLen(1))
	buf.Write(signature[:])
	buf.Write(msg)
	return buf.Bytes(), signature, nil
}

// EncodeTransactionBase64 is the wire encoding sendTransaction expects
// when submitted with the base64 transport, which this client always
// uses.
func EncodeTransactionBase64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
