package audithook

// Audit event actions. Each constant corresponds to one lifecycle hook and
// becomes the Action field of the audit event.
const (
	ActionJobWaiting   = "job.waiting"
	ActionJobActive    = "job.active"
	ActionJobCompleted = "job.completed"
	ActionJobRetrying  = "job.retrying"
	ActionJobFailed    = "job.failed"
	ActionJobStalled   = "job.stalled"
)

// CategoryJob groups every job action.
const CategoryJob = "bullmq.job"

// ResourceJob is the Resource field of every audit event.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobWaiting,
		ActionJobActive,
		ActionJobCompleted,
		ActionJobRetrying,
		ActionJobFailed,
		ActionJobStalled,
	}
}
