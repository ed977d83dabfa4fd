// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ed25519"
)

// LoadSpenderKeypair parses SPENDER_KEYPAIR, which is either a
// filesystem path to a 64-byte JSON array (the solana-keygen format:
// 32-byte seed followed by the 32-byte public key) or that same JSON
// array given inline.
func LoadSpenderKeypair(value string) (ed25519.PrivateKey, error) {
	raw := strings.TrimSpace(value)
	if !strings.HasPrefix(raw, "[") {
		b, err := os.ReadFile(raw)
		if err != nil {
			return nil, fmt.Errorf("chain: read spender keypair file: %w", err)
		}
		raw = string(b)
	}
	var ints []int
	if err := json.Unmarshal([]byte(raw), &ints); err != nil {
		return nil, fmt.Errorf("chain: parse spender keypair JSON: %w", err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("chain: spender keypair must be %d bytes, got %d", ed25519.PrivateKeySize, len(ints))
	}
	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("chain: spender keypair byte %d out of range: %d", i, v)
		}
		key[i] = byte(v)
	}
	return key, nil
}

// PublicKeyOf returns the 32-byte public key embedded in an Ed25519
// private key.
func PublicKeyOf(key ed25519.PrivateKey) [32]byte {
	var out [32]byte
	copy(out[:], key[32:])
	return out
}
