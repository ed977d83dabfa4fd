// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"

	kklog "github.com/kangklip/kangklip-server/internal/log"
)

var logger = kklog.NewModuleLogger(kklog.ModuleStore)

// RedisStore is the Store implementation backed by Redis, the backend
// named by REDIS_URL in §6.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore dials Redis using the given connection URL
// (redis://[:password@]host:port/db).
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "store: parse REDIS_URL")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping().Err(); err != nil {
		return nil, errors.Wrap(err, "store: connect to redis")
	}
	logger.Info("connected to redis", "addr", opts.Addr)
	return &RedisStore{rdb: rdb}, nil
}

func jobKey(jobID string) string       { return "job:" + jobID }
func unlockKey(jobID, clip string) string { return "unlock:" + jobID + ":" + clip }
func spendKey(wallet string) string    { return "spend:" + wallet }
func idemKey(reqID string) string      { return "idem:" + reqID }
func pendingKey(reqID string) string   { return "pending:" + reqID }
func nonceKey(nonce string) string     { return "nonce:" + nonce }
func tokenKey(token string) string     { return "token:" + token }
func topupKey(sig string) string       { return "topup:" + sig }
func manifestKey(prefix string) string { return "manifest:" + prefix }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.WithContext(ctx).Ping().Err()
}

// --- JobRecord ---

func (s *RedisStore) CreateJob(ctx context.Context, rec *JobRecord) error {
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "store: marshal job record")
	}
	// NX: job ids are ULID-derived and must never collide with an
	// existing record; a collision indicates a broken id generator.
	ok, err := s.rdb.WithContext(ctx).SetNX(jobKey(rec.JobID), b, 0).Result()
	if err != nil {
		return errors.Wrap(err, "store: create job")
	}
	if !ok {
		return fmt.Errorf("store: job %s already exists", rec.JobID)
	}
	return nil
}

func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	raw, err := s.rdb.WithContext(ctx).Get(jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: get job")
	}
	var rec JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrap(err, "store: decode job record")
	}
	return &rec, nil
}

// MergeJob applies a last-writer-wins merge of the given fields onto
// the stored JobRecord and persists the result. Supported keys mirror
// the worker callback payload: status, stage, progress, r2_prefix,
// error, run_id, start_error, market_cache.
func (s *RedisStore) MergeJob(ctx context.Context, jobID string, fields map[string]interface{}) (*JobRecord, error) {
	key := jobKey(jobID)
	var result *JobRecord
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "store: get job for merge")
		}
		var rec JobRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return errors.Wrap(err, "store: decode job record for merge")
		}
		applyJobMerge(&rec, fields)
		rec.UpdatedAt = time.Now().UTC()
		b, err := json.Marshal(rec)
		if err != nil {
			return errors.Wrap(err, "store: marshal merged job record")
		}
		_, err = tx.TxPipelined(func(pipe redis.Pipeliner) error {
			pipe.Set(key, b, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = &rec
		return nil
	}
	if err := s.rdb.WithContext(ctx).Watch(txf, key); err != nil {
		return nil, err
	}
	return result, nil
}

func applyJobMerge(rec *JobRecord, fields map[string]interface{}) {
	if v, ok := fields["status"].(JobStatus); ok {
		rec.Status = v
	}
	if v, ok := fields["stage"].(JobStage); ok {
		rec.Stage = v
	}
	if v, ok := fields["progress"].(int); ok {
		rec.Progress = v
	}
	if v, ok := fields["r2_prefix"].(string); ok {
		rec.R2Prefix = v
	}
	if v, ok := fields["error"].(string); ok {
		rec.Error = v
	}
	if v, ok := fields["run_id"].(string); ok {
		rec.RunID = v
	}
	if v, ok := fields["start_error"].(string); ok {
		rec.StartError = v
	}
	if v, ok := fields["market_cache"].(string); ok {
		rec.MarketCache = v
	}
}

// --- ClipUnlock ---

func (s *RedisStore) IsClipUnlocked(ctx context.Context, jobID, clipFile string) (bool, error) {
	v, err := s.rdb.WithContext(ctx).Get(unlockKey(jobID, clipFile)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "store: get clip unlock")
	}
	return v == "1", nil
}

func (s *RedisStore) SetClipUnlocked(ctx context.Context, jobID, clipFile string) error {
	return s.rdb.WithContext(ctx).Set(unlockKey(jobID, clipFile), "1", 0).Err()
}

// --- WalletSpend ---

func (s *RedisStore) GetWalletSpend(ctx context.Context, wallet string) (int64, error) {
	v, err := s.rdb.WithContext(ctx).Get(spendKey(wallet)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "store: get wallet spend")
	}
	return v, nil
}

// --- IdempotencyResult ---

func (s *RedisStore) GetIdempotencyResult(ctx context.Context, unlockRequestID string) (*IdempotencyResult, error) {
	raw, err := s.rdb.WithContext(ctx).Get(idemKey(unlockRequestID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: get idempotency result")
	}
	var res IdempotencyResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrap(err, "store: decode idempotency result")
	}
	return &res, nil
}

func (s *RedisStore) SetIdempotencyResultIfAbsent(ctx context.Context, unlockRequestID string, res *IdempotencyResult) (*IdempotencyResult, bool, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return nil, false, errors.Wrap(err, "store: marshal idempotency result")
	}
	ok, err := s.rdb.WithContext(ctx).SetNX(idemKey(unlockRequestID), b, TTLIdempotencyResult).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "store: set-if-absent idempotency result")
	}
	if ok {
		return res, true, nil
	}
	existing, err := s.GetIdempotencyResult(ctx, unlockRequestID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *RedisStore) SetIdempotencyResult(ctx context.Context, unlockRequestID string, res *IdempotencyResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "store: marshal idempotency result")
	}
	return s.rdb.WithContext(ctx).Set(idemKey(unlockRequestID), b, TTLIdempotencyResult).Err()
}

// --- UnlockPending ---

func (s *RedisStore) GetUnlockPending(ctx context.Context, unlockRequestID string) (*UnlockPending, error) {
	raw, err := s.rdb.WithContext(ctx).Get(pendingKey(unlockRequestID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: get unlock pending")
	}
	var p UnlockPending
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "store: decode unlock pending")
	}
	return &p, nil
}

func (s *RedisStore) SetUnlockPending(ctx context.Context, unlockRequestID string, p *UnlockPending) error {
	b, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "store: marshal unlock pending")
	}
	return s.rdb.WithContext(ctx).Set(pendingKey(unlockRequestID), b, TTLUnlockPending).Err()
}

func (s *RedisStore) DeleteUnlockPending(ctx context.Context, unlockRequestID string) error {
	return s.rdb.WithContext(ctx).Del(pendingKey(unlockRequestID)).Err()
}

// --- AuthNonce ---

func (s *RedisStore) SetAuthNonce(ctx context.Context, nonce string, n *AuthNonce) error {
	b, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "store: marshal auth nonce")
	}
	return s.rdb.WithContext(ctx).Set(nonceKey(nonce), b, TTLAuthNonce).Err()
}

func (s *RedisStore) GetAuthNonce(ctx context.Context, nonce string) (*AuthNonce, error) {
	raw, err := s.rdb.WithContext(ctx).Get(nonceKey(nonce)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: get auth nonce")
	}
	var n AuthNonce
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, errors.Wrap(err, "store: decode auth nonce")
	}
	return &n, nil
}

func (s *RedisStore) DeleteAuthNonce(ctx context.Context, nonce string) error {
	return s.rdb.WithContext(ctx).Del(nonceKey(nonce)).Err()
}

// --- AuthToken ---

func (s *RedisStore) SetAuthToken(ctx context.Context, token, wallet string) error {
	return s.rdb.WithContext(ctx).Set(tokenKey(token), wallet, TTLAuthToken).Err()
}

func (s *RedisStore) GetAuthToken(ctx context.Context, token string) (string, error) {
	v, err := s.rdb.WithContext(ctx).Get(tokenKey(token)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "store: get auth token")
	}
	return v, nil
}

// --- TopupSignature ---

func (s *RedisStore) MarkTopupSignature(ctx context.Context, sig string) (bool, error) {
	ok, err := s.rdb.WithContext(ctx).SetNX(topupKey(sig), "1", 0).Result()
	if err != nil {
		return false, errors.Wrap(err, "store: mark topup signature")
	}
	return !ok, nil
}

// --- Manifest cache ---

func (s *RedisStore) GetCachedManifest(ctx context.Context, r2Prefix string) ([]byte, error) {
	raw, err := s.rdb.WithContext(ctx).Get(manifestKey(r2Prefix)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: get cached manifest")
	}
	return raw, nil
}

func (s *RedisStore) SetCachedManifest(ctx context.Context, r2Prefix string, data []byte) error {
	return s.rdb.WithContext(ctx).Set(manifestKey(r2Prefix), data, TTLManifestCache).Err()
}

// --- TryConsumeCredit ---

func (s *RedisStore) TryConsumeCredit(ctx context.Context, jobID, clipFile, wallet, unlockRequestID string, availableCredits int64, ttl int) (*ConsumeOutcome, error) {
	keys := []string{idemKey(unlockRequestID), unlockKey(jobID, clipFile), spendKey(wallet)}
	args := []interface{}{strconv.FormatInt(availableCredits, 10), strconv.Itoa(ttl)}

	raw, err := s.rdb.WithContext(ctx).Eval(tryConsumeCreditScript, keys, args...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "store: try consume credit script")
	}
	parts, ok := raw.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("store: unexpected consume-credit script result %T", raw)
	}
	outcome, _ := parts[0].(string)
	payload, _ := parts[1].(string)

	switch outcome {
	case "insufficient":
		return &ConsumeOutcome{InsufficientCredits: true}, nil
	case "replay", "new":
		var res IdempotencyResult
		if err := json.Unmarshal([]byte(payload), &res); err != nil {
			return nil, errors.Wrap(err, "store: decode consume-credit payload")
		}
		if outcome == "replay" {
			res.Idempotency = IdempotencyReplay
		}
		return &ConsumeOutcome{Result: &res}, nil
	default:
		return nil, fmt.Errorf("store: unknown consume-credit outcome %q", outcome)
	}
}
