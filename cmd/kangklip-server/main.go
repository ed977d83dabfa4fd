// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/urfave/cli.v1"

	"github.com/kangklip/kangklip-server/internal/artifact"
	"github.com/kangklip/kangklip-server/internal/auth"
	"github.com/kangklip/kangklip-server/internal/chain"
	"github.com/kangklip/kangklip-server/internal/config"
	"github.com/kangklip/kangklip-server/internal/dispatcher"
	"github.com/kangklip/kangklip-server/internal/httpapi"
	kklog "github.com/kangklip/kangklip-server/internal/log"
	"github.com/kangklip/kangklip-server/internal/objectstore"
	"github.com/kangklip/kangklip-server/internal/store"
	"github.com/kangklip/kangklip-server/internal/unlock"
)

var logger = kklog.NewModuleLogger(kklog.ModuleCmd)

var app = cli.NewApp()

var serverFlags = []cli.Flag{
	cli.StringFlag{Name: "listen-addr", EnvVar: "LISTEN_ADDR", Value: ":8080", Usage: "HTTP listen address"},
}

func init() {
	app.Name = "kangklip-server"
	app.Usage = "orchestration core for the KangKlip short-video clipping service"
	app.Flags = serverFlags
	app.Action = runServer
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(ctx *cli.Context) error {
	cfg, err := config.Load(os.LookupEnv)
	if err != nil {
		return err
	}
	if addr := ctx.String("listen-addr"); addr != "" {
		cfg.ListenAddr = addr
	}

	st, err := store.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("cmd: connect store: %w", err)
	}

	rpc := chain.NewRPCClient(cfg.SolanaRPCURL)
	spender, err := chain.LoadSpenderKeypair(cfg.SpenderKeypair)
	if err != nil {
		return fmt.Errorf("cmd: load spender keypair: %w", err)
	}
	programID, err := chain.DecodePubkey(cfg.CreditsProgramID)
	if err != nil {
		return fmt.Errorf("cmd: decode CREDITS_PROGRAM_ID: %w", err)
	}
	mint, err := chain.DecodePubkey(cfg.USDCMint)
	if err != nil {
		return fmt.Errorf("cmd: decode USDC_MINT: %w", err)
	}
	treasury, err := chain.DecodePubkey(cfg.TreasuryAddress)
	if err != nil {
		return fmt.Errorf("cmd: decode TREASURY_ADDRESS: %w", err)
	}
	credits := chain.NewCreditService(rpc, programID, mint, treasury, spender)

	objects, err := objectstore.New(cfg.R2Endpoint, cfg.R2Bucket, cfg.R2AccessKeyID, cfg.R2SecretAccessKey)
	if err != nil {
		return fmt.Errorf("cmd: build object store client: %w", err)
	}

	authSvc := auth.NewService(st)
	artifactGate := artifact.NewGate(st, objects)
	unlockCoord := unlock.NewCoordinator(st, credits)
	fabric := dispatcher.NewFabricClient(cfg.NosanaAPIBase, cfg.NosanaAPIKey, cfg.NosanaMarket)
	dispatch := dispatcher.NewService(st, fabric, cfg.NosanaWorkerImage, cfg.NosanaMarket, cfg.CallbackBaseURL, cfg.CallbackToken, cfg.RenderPassthrough)

	handler := httpapi.New(httpapi.Deps{
		Store:       st,
		Dispatcher:  dispatch,
		Auth:        authSvc,
		Unlock:      unlockCoord,
		Artifact:    artifactGate,
		Credits:     credits,
		CallbackTok: cfg.CallbackToken,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("cmd: server exited: %w", err)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "err", err)
		}
	}
	kklog.Sync()
	return nil
}
