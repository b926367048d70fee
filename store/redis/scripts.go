package redis

import goredis "github.com/redis/go-redis/v9"

// claimScript promotes due delayed jobs, then moves the most urgent
// waiting job to active under the caller's lock.
//
// KEYS: wait, delayed, active
// ARGV: now ms, lock expiry ms, lock owner, job key prefix
var claimScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
  local key = ARGV[4] .. id
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[1], redis.call('HGET', key, 'priority'), id)
  redis.call('HSET', key, 'state', 'waiting', 'delay_until', '')
end

local top = redis.call('ZRANGE', KEYS[1], 0, 0)
if #top == 0 then
  return false
end

local id = top[1]
local key = ARGV[4] .. id
local expires = ARGV[2]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[3], expires, id)
redis.call('HSET', key,
  'state', 'active',
  'lock_owner', ARGV[3],
  'lock_expires_at', expires,
  'started_at', ARGV[1],
  'updated_at', ARGV[1],
  'delay_until', '')
return id
`)

// progressScript sets the progress field of an existing job.
//
// KEYS: job
// ARGV: progress, now ms
var progressScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'progress', ARGV[1], 'updated_at', ARGV[2])
return 1
`)

// logScript appends a log line to an existing job.
//
// KEYS: job, logs
// ARGV: line
var logScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)
