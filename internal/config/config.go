// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package config loads the environment recognized by the service (§6
// of the specification) into a single typed Config, validated once at
// startup and threaded explicitly through every component constructor
// instead of being read from package-level globals.
package config

import (
	"fmt"
	"strings"
)

// Config holds every environment-derived setting the service consumes.
type Config struct {
	ListenAddr string

	NosanaAPIBase     string
	NosanaAPIKey      string
	NosanaWorkerImage string
	NosanaMarket      string

	RedisURL string

	R2Endpoint        string
	R2Bucket          string
	R2AccessKeyID     string
	R2SecretAccessKey string

	CallbackBaseURL string
	CallbackToken   string

	LLMAPIBase  string
	LLMModel    string
	LLMAPIKey   string
	CORSOrigins []string

	SolanaRPCURL     string
	USDCMint         string
	TreasuryAddress  string
	CreditsProgramID string
	SpenderKeypair   string // path, or inline 64-byte JSON array

	// Advisory passthroughs forwarded verbatim into the worker payload.
	RenderPassthrough map[string]string
}

// Option mutates a Config during construction. Load does not accept
// Options, and nothing in this repository applies one.
type Option func(*Config)

// Load builds a Config from the given lookup function (normally
// os.LookupEnv), returning a descriptive error naming every missing
// required variable at once rather than failing on the first.
func Load(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}
	getRequired := func(key string, missing *[]string) string {
		v, ok := lookup(key)
		if !ok || v == "" {
			*missing = append(*missing, key)
		}
		return v
	}

	var missing []string
	c := &Config{
		ListenAddr: orDefault(get("LISTEN_ADDR"), ":8080"),

		NosanaAPIBase:     getRequired("NOSANA_API_BASE", &missing),
		NosanaAPIKey:      getRequired("NOSANA_API_KEY", &missing),
		NosanaWorkerImage: getRequired("NOSANA_WORKER_IMAGE", &missing),
		NosanaMarket:      get("NOSANA_MARKET"),

		RedisURL: getRequired("REDIS_URL", &missing),

		R2Endpoint:        getRequired("R2_ENDPOINT", &missing),
		R2Bucket:          getRequired("R2_BUCKET", &missing),
		R2AccessKeyID:     getRequired("R2_ACCESS_KEY_ID", &missing),
		R2SecretAccessKey: getRequired("R2_SECRET_ACCESS_KEY", &missing),

		CallbackBaseURL: get("CALLBACK_BASE_URL"),
		CallbackToken:   getRequired("CALLBACK_TOKEN", &missing),

		LLMAPIBase: getRequired("LLM_API_BASE", &missing),
		LLMModel:   getRequired("LLM_MODEL_NAME", &missing),
		LLMAPIKey:  get("LLM_API_KEY"),

		SolanaRPCURL:     getRequired("SOLANA_RPC_URL", &missing),
		USDCMint:         getRequired("USDC_MINT", &missing),
		TreasuryAddress:  getRequired("TREASURY_ADDRESS", &missing),
		CreditsProgramID: getRequired("CREDITS_PROGRAM_ID", &missing),
		SpenderKeypair:   getRequired("SPENDER_KEYPAIR", &missing),
	}

	if origins := get("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	} else {
		c.CORSOrigins = []string{"*"}
	}

	c.RenderPassthrough = map[string]string{}
	for _, key := range []string{
		"RENDER_PRESET", "CAPTION_STYLE", "CAPTION_FONT", "ASR_MODEL", "ASR_LANGUAGE_HINT",
	} {
		if v := get(key); v != "" {
			c.RenderPassthrough[key] = v
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return c, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
