// Package ext defines the extension system.
//
// Extensions are notified of job lifecycle events and can react to them,
// for example by recording metrics or publishing to subscribers. Each hook
// is a separate interface so extensions opt in only to the events they
// care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Hooks
//
//   - [JobWaiting]: job was accepted into the queue
//   - [JobActive]: worker claimed the job
//   - [JobProgress]: handler reported progress
//   - [JobCompleted]: job finished successfully
//   - [JobRetrying]: job failed and will be retried
//   - [JobFailed]: job failed permanently
//   - [JobStalled]: job lease expired and the job was reclaimed
//   - [Shutdown]: the engine is shutting down
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
