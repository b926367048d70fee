// Package job defines the job entity, its state machine, typed handler
// definitions and the store contract.
//
// # Lifecycle
//
//	waiting → active → completed
//	waiting → active → delayed → active → ...   (failed attempt, retry)
//	waiting → active → failed                   (attempts exhausted)
//	delayed → active                            (delay elapsed)
//	active  → waiting                           (lease expired, stall)
//
// Priority is an integer where lower values are dispatched first; the
// named levels run from PriorityCritical (1) to PriorityBulk (10). Jobs of
// equal priority are dispatched in enqueue order.
//
// # Handlers
//
// A [HandlerFunc] receives a [Context] that can append log lines, report
// progress and observe cancellation:
//
//	var Welcome = job.NewDefinition("welcome-email",
//	    func(ctx *job.Context, in WelcomeInput) (any, error) {
//	        ctx.Log("rendering template")
//	        ctx.Progress(50)
//	        return mailer.Send(ctx, in)
//	    },
//	)
//
// [Registry] maps job types to handlers and rejects duplicate
// registrations with bullmq.ErrHandlerConflict.
package job
