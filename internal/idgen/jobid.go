// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package idgen mints the service's time-ordered job identifiers
// (§6: "kk_" + 26 Crockford-base32 characters) and the random secrets
// (job tokens, auth tokens, nonces) handed out alongside them.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
)

// JobIDPattern matches the wire format of a JobId.
var JobIDPattern = regexp.MustCompile(`^kk_[0-9A-HJKMNP-TV-Z]{26}$`)

var entropy = ulid.Monotonic(rand.Reader, 0)

// NewJobID mints a "kk_" prefixed, time-ordered, monotonic id.
func NewJobID() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return "kk_" + id.String()
}

// NewHexSecret returns n random bytes hex-encoded, used for job tokens,
// auth tokens, and the raw nonce bytes of the auth challenge.
func NewHexSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("idgen: read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
