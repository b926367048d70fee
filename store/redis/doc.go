// Package redis implements store.Store on Redis. Each job is a Hash, its
// log lines a List, and every queue keeps one Sorted Set per state:
//
//	bull:{queue}:wait       score = priority, member = zero-padded job id
//	bull:{queue}:delayed    score = delay-until (unix ms)
//	bull:{queue}:active     score = lock expiry (unix ms)
//	bull:{queue}:completed  score = finish time (unix ms)
//	bull:{queue}:failed     score = finish time (unix ms)
//
// Members are padded so that equal-priority waiting jobs sort by id, which
// gives FIFO order within a priority level. Claims run as a Lua script;
// every other transition loads the job under WATCH, applies the shared
// transition from package job and writes it back in MULTI/EXEC.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
