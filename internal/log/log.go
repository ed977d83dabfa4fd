// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package log provides a module-scoped, key/value structured logger on
// top of zap, mirroring the per-component logger convention used
// throughout the teacher codebase (log.NewModuleLogger(log.API)).
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base *zap.Logger

func init() {
	level := zapcore.InfoLevel
	if os.Getenv("KANGKLIP_LOG_LEVEL") == "debug" {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a no-op core rather than panicking on a logging
		// misconfiguration; the service must still be able to serve traffic.
		l = zap.NewNop()
	}
	base = l
}

// Logger is a module-scoped, key/value structured logger.
type Logger struct {
	name string
	z    *zap.SugaredLogger
}

// NewModuleLogger returns a logger tagged with the given module name,
// the way the teacher tags loggers with log.API, log.StorageDatabase, etc.
func NewModuleLogger(module string) *Logger {
	return &Logger{name: module, z: base.Sugar().With("module", module)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.z.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.z.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.z.Errorw(msg, kv...) }

// Sync flushes any buffered log entries. Called once from main on shutdown.
func Sync() {
	_ = base.Sync()
}

// Module name constants, mirroring the teacher's log.CMDKCN / log.API style.
const (
	ModuleHTTPAPI    = "httpapi"
	ModuleStore      = "store"
	ModuleChain      = "chain"
	ModuleUnlock     = "unlock"
	ModuleArtifact   = "artifact"
	ModuleDispatcher = "dispatcher"
	ModuleAuth       = "auth"
	ModuleConfig     = "config"
	ModuleCmd        = "cmd"
)
