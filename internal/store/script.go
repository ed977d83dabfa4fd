// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

package store

// tryConsumeCreditScript is the single scripted atomic primitive of
// §4.2. It is the concurrency anchor for the whole unlock path: it
// serializes per-wallet spend and per-clip delivery across concurrent
// requests with a single round trip to Redis.
//
// KEYS[1] = idempotency key  (idem:{unlockRequestID})
// KEYS[2] = clip-unlock key  (unlock:{jobID}:{clipFile})
// KEYS[3] = wallet-spend key (spend:{wallet})
//
// ARGV[1] = available credits (integer, as string)
// ARGV[2] = idempotency TTL in seconds
//
// Returns a 2-element array: [outcome, payload]
//   outcome "replay"       -> payload is the existing idempotency JSON, or,
//                             when the clip was already unlocked, a freshly
//                             written charged_credits=0 REPLAY record
//   outcome "insufficient" -> payload is empty
//   outcome "new"          -> payload is the freshly written idempotency JSON
const tryConsumeCreditScript = `
local idemKey = KEYS[1]
local unlockKey = KEYS[2]
local spendKey = KEYS[3]
local available = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local existing = redis.call('GET', idemKey)
if existing then
	return {'replay', existing}
end

if redis.call('GET', unlockKey) == '1' then
	local payload = cjson.encode({unlocked=true, charged_credits=0, idempotency='REPLAY', status='final'})
	redis.call('SET', idemKey, payload, 'EX', ttl)
	return {'replay', payload}
end

local spend = tonumber(redis.call('GET', spendKey) or '0')
if spend + 1 > available then
	return {'insufficient', ''}
end

redis.call('INCR', spendKey)
redis.call('SET', unlockKey, '1')
local payload = cjson.encode({unlocked=true, charged_credits=1, idempotency='NEW', status='final'})
redis.call('SET', idemKey, payload, 'EX', ttl)
return {'new', payload}
`
