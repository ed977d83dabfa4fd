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
	"sort"
)

// accountEntry tracks the merged signer/writable flags for one pubkey
// across all instructions in a message, before final ordering.
type accountEntry struct {
	key        [32]byte
	isSigner   bool
	isWritable bool
}

// CompileMessage lays out the account keys of the given instructions
// in Solana's canonical order (fee payer first, then signer-writable,
// signer-readonly, writable, readonly) and serializes the legacy
// message wire format: header, account keys, recent blockhash,
// compiled instructions.
func CompileMessage(feePayer [32]byte, blockhash [32]byte, instrs []Instruction) ([]byte, []([32]byte), error) {
	merged := map[[32]byte]*accountEntry{}
	order := []([32]byte){}

	ensure := func(k [32]byte) *accountEntry {
		if e, ok := merged[k]; ok {
			return e
		}
		e := &accountEntry{key: k}
		merged[k] = e
		order = append(order, k)
		return e
	}

	feePayerEntry := ensure(feePayer)
	feePayerEntry.isSigner = true
	feePayerEntry.isWritable = true

	for _, ix := range instrs {
		ensure(ix.ProgramID)
		for _, a := range ix.Accounts {
			e := ensure(a.Pubkey)
			if a.IsSigner {
				e.isSigner = true
			}
			if a.IsWritable {
				e.isWritable = true
			}
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := merged[order[i]], merged[order[j]]
		if a.key == feePayer {
			return true
		}
		if b.key == feePayer {
			return false
		}
		rank := func(e *accountEntry) int {
			switch {
			case e.isSigner && e.isWritable:
				return 0
			case e.isSigner && !e.isWritable:
				return 1
			case !e.isSigner && e.isWritable:
				return 2
			default:
				return 3
			}
		}
		return rank(a) < rank(b)
	})

	indexOf := func(k [32]byte) byte {
		for i, o := range order {
			if o == k {
				return byte(i)
			}
		}
		return 0xFF
	}

	numSigners, numReadonlySigned, numReadonlyUnsigned := 0, 0, 0
	for _, k := range order {
		e := merged[k]
		if e.isSigner {
			numSigners++
			if !e.isWritable {
				numReadonlySigned++
			}
		} else if !e.isWritable {
			numReadonlyUnsigned++
		}
	}

	var buf bytes.Buffer
	buf.WriteByte(byte(numSigners))
	buf.WriteByte(byte(numReadonlySigned))
	buf.WriteByte(byte(numReadonlyUnsigned))

	buf.Write(encodeShortVecLen(len(order)))
	for _, k := range order {
		buf.Write(k[:])
	}

	buf.Write(blockhash[:])

	buf.Write(encodeShortVecLen(len(instrs)))
	for _, ix := range instrs {
		buf.WriteByte(indexOf(ix.ProgramID))
		buf.Write(encodeShortVecLen(len(ix.Accounts)))
		for _, a := range ix.Accounts {
			buf.WriteByte(indexOf(a.Pubkey))
		}
		buf.Write(encodeShortVecLen(len(ix.Data)))
		buf.Write(ix.Data)
	}

	return buf.Bytes(), order, nil
}
