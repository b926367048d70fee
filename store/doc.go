// Package store defines the aggregate persistence interface.
//
// # Available Backends
//
//   - store/memory: in-process store for development and testing
//   - store/redis: Redis backend using go-redis v9 and Lua scripts
//   - store/postgres: PostgreSQL backend using pgx/v5
//
// Every backend passes the conformance suite in store/storetest.
//
// # Transient failures
//
// Backends wrap connectivity failures with bullmq.ErrStoreUnavailable.
// [NewRetrying] retries those with jittered exponential backoff and
// surfaces the error once the retry budget is spent:
//
//	s, err := postgres.New(ctx, dsn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	eng, err := engine.New(store.NewRetrying(s))
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
