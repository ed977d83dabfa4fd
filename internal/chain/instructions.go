// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package chain

import (
	"crypto/sha256"
	"encoding/binary"
)

// AccountMeta describes one account reference within an instruction.
type AccountMeta struct {
	Pubkey     [32]byte
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single, uncompiled Solana instruction.
type Instruction struct {
	ProgramID [32]byte
	Accounts  []AccountMeta
	Data      []byte
}

// anchorDiscriminator computes the 8-byte selector Anchor-framework
// programs prepend to instruction data and account data, namely the
// first 8 bytes of sha256(namespace).
func anchorDiscriminator(namespace string) []byte {
	sum := sha256.Sum256([]byte(namespace))
	return sum[:8]
}

// InstructionDiscriminator returns sha256("global:<method>")[0:8], the
// Anchor convention for instruction selectors.
func InstructionDiscriminator(method string) []byte {
	return anchorDiscriminator("global:" + method)
}

// AccountDiscriminator returns sha256("account:<TypeName>")[0:8], the
// Anchor convention for on-chain account type tags.
func AccountDiscriminator(typeName string) []byte {
	return anchorDiscriminator("account:" + typeName)
}

func u64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// BuildPayUSDCInstruction encodes the pay_usdc instruction: selector
// followed by the little-endian base-unit amount.
func BuildPayUSDCInstruction(programID [32]byte, config, vaultATA, userATA, userWallet, tokenProgram [32]byte, amountBaseUnits uint64) Instruction {
	data := append(append([]byte{}, InstructionDiscriminator("pay_usdc")...), u64LE(amountBaseUnits)...)
	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			{Pubkey: userWallet, IsSigner: true, IsWritable: true},
			{Pubkey: config, IsSigner: false, IsWritable: true},
			{Pubkey: userATA, IsSigner: false, IsWritable: true},
			{Pubkey: vaultATA, IsSigner: false, IsWritable: true},
			{Pubkey: tokenProgram, IsSigner: false, IsWritable: false},
		},
		Data: data,
	}
}

// BuildConsumeCreditInstruction encodes the consume_credit
// instruction, spent by the service's spender key on behalf of a
// user: accounts are {spender (signer), config, user, userCredit}.
func BuildConsumeCreditInstruction(programID [32]byte, spender, config, user, userCredit [32]byte, amount uint64) Instruction {
	data := append(append([]byte{}, InstructionDiscriminator("consume_credit")...), u64LE(amount)...)
	return Instruction{
		ProgramID: programID,
		Accounts: []AccountMeta{
			{Pubkey: spender, IsSigner: true, IsWritable: true},
			{Pubkey: config, IsSigner: false, IsWritable: false},
			{Pubkey: user, IsSigner: false, IsWritable: false},
			{Pubkey: userCredit, IsSigner: false, IsWritable: true},
		},
		Data: data,
	}
}

// memoMaxLen is the longest literal memo text kept verbatim; anything
// longer is truncated to its hex-encoded sha-256 digest instead (§4.4).
const memoMaxLen = 64

// BuildMemoInstruction encodes a Memo-program instruction carrying the
// given text verbatim if short enough, or its hex-truncated sha-256
// digest otherwise.
func BuildMemoInstruction(memo string) Instruction {
	data := []byte(memo)
	if len(data) > memoMaxLen {
		sum := sha256.Sum256(data)
		data = []byte(hexEncode(sum[:]))
	}
	return Instruction{
		ProgramID: MemoProgramID,
		Accounts:  nil,
		Data:      data,
	}
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0xf]
	}
	return string(out)
}
