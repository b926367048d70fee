// Package queue provides the Queue façade: a named queue that accepts jobs
// from producers, holds the handlers for its job types and, once started,
// runs a dispatcher and a stalled-job monitor over its jobs.
//
//	q, err := queue.New("email-queue", store, bullmq.DefaultConfig().Apply(
//	    bullmq.WithConcurrency(5),
//	    bullmq.WithRateLimit(10, 20), // 10 claims/s, bursts of 20
//	))
//	err = q.RegisterHandler("welcome-email", sendWelcome)
//	unsubscribe := q.Subscribe(event.KindFailed, func(e event.Event) {
//	    log.Printf("job %s failed: %v", e.JobID, e.Err)
//	})
//	err = q.Start(ctx)
//	id, err := q.Enqueue(ctx, "welcome-email", payload, job.WithPriority(job.PriorityHigh))
//	...
//	err = q.Close(ctx)
//
// A queue created on its own owns a private extension registry and event
// bus. Queues created by the engine share the engine's.
package queue
