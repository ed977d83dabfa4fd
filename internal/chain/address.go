// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package chain

import (
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// ErrInvalidPubkey is returned when a wallet address does not decode
// to exactly 32 bytes of base58.
var ErrInvalidPubkey = fmt.Errorf("chain: invalid public key")

// DecodePubkey parses a base58-encoded Solana-style public key.
func DecodePubkey(s string) ([32]byte, error) {
	var out [32]byte
	raw := base58.Decode(s)
	if len(raw) != 32 {
		return out, ErrInvalidPubkey
	}
	copy(out[:], raw)
	return out, nil
}

// EncodePubkey base58-encodes a 32-byte public key.
func EncodePubkey(b [32]byte) string {
	return base58.Encode(b[:])
}

// DecodeSignature parses a base58-encoded detached Ed25519 signature.
func DecodeSignature(s string) ([64]byte, error) {
	var out [64]byte
	raw := base58.Decode(s)
	if len(raw) != 64 {
		return out, fmt.Errorf("chain: invalid signature length %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func mustDecodeBase58Pubkey(s string) [32]byte {
	k, err := DecodePubkey(s)
	if err != nil {
		panic(fmt.Sprintf("chain: invalid well-known program id %q: %v", s, err))
	}
	return k
}
