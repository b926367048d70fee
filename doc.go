// Package bullmq is a durable, priority-aware job queue engine.
//
// Producers enqueue typed jobs into named queues with a priority, an
// attempt limit, a backoff policy and an optional delay. Each queue runs a
// dispatcher that claims jobs in priority order under a renewable lease,
// executes the registered handler with log and progress reporting, and
// records the outcome. A stalled-job monitor reclaims jobs whose worker
// stopped renewing its lease. Lifecycle events are fanned out to local
// subscribers asynchronously.
//
// # Quick Start
//
//	s := memory.New()
//	eng, err := engine.New(s, engine.WithLogger(logger))
//	q, err := eng.Queue("email-queue", bullmq.WithConcurrency(4))
//	err = q.RegisterHandler("welcome-email", sendWelcome)
//	id, err := q.Enqueue(ctx, "welcome-email", payload,
//	    job.WithPriority(job.PriorityLow),
//	    job.WithMaxAttempts(3),
//	)
//	err = eng.Run(ctx)
//
// # Architecture
//
// The root package holds sentinel errors, Config and Clock. The store is
// the single source of truth: every backend (memory, redis, postgres)
// implements the same atomic transition contract defined in package job,
// so dispatchers in different processes may race on claims safely.
package bullmq
