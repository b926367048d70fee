package job

import (
	"time"

	bullmq "github.com/ozandndar/reddis-bullmq"
)

// The functions below are the single definition of every state transition.
// Store backends that load a job, transition it and write it back under
// their own atomicity primitive call them so that all backends agree.

// Prepare initialises a job for insertion: waiting, or delayed when
// DelayUntil is in the future.
func Prepare(j *Job, now time.Time) {
	j.State = StateWaiting
	if j.DelayUntil != nil && j.DelayUntil.After(now) {
		j.State = StateDelayed
	} else {
		j.DelayUntil = nil
	}
	j.AttemptsMade = 0
	j.StalledCount = 0
	j.Progress = 0
	if j.Logs == nil {
		j.Logs = []string{}
	}
	j.Result = nil
	j.LastError = ""
	j.LockOwner = ""
	j.LockExpiresAt = nil
	j.StartedAt = nil
	j.FinishedAt = nil
	j.CreatedAt = now
	j.UpdatedAt = now
}

// Claim marks an eligible job active under owner's lease.
func Claim(j *Job, owner string, lease time.Duration, now time.Time) {
	expires := now.Add(lease)
	j.State = StateActive
	j.DelayUntil = nil
	j.LockOwner = owner
	j.LockExpiresAt = &expires
	j.StartedAt = &now
	j.UpdatedAt = now
}

// CheckLock returns bullmq.ErrLockLost unless owner holds the job's lease.
func CheckLock(j *Job, owner string) error {
	if j.State != StateActive || j.LockOwner != owner {
		return bullmq.ErrLockLost
	}
	return nil
}

// Renew extends the lease.
func Renew(j *Job, lease time.Duration, now time.Time) {
	expires := now.Add(lease)
	j.LockExpiresAt = &expires
	j.UpdatedAt = now
}

// ApplyCompletion marks the job completed with the handler result.
func ApplyCompletion(j *Job, result []byte, now time.Time) {
	j.State = StateCompleted
	j.Result = result
	j.LastError = ""
	j.FinishedAt = &now
	j.UpdatedAt = now
	release(j)
}

// ApplyFailure records a failed attempt. The job is delayed for a retry
// while attempts remain unless terminal is set.
func ApplyFailure(j *Job, cause string, terminal bool, now time.Time) {
	j.AttemptsMade++
	j.LastError = cause
	j.UpdatedAt = now
	release(j)

	if !terminal && j.AttemptsMade < j.MaxAttempts {
		until := now.Add(j.Backoff.Delay(j.AttemptsMade))
		j.State = StateDelayed
		j.DelayUntil = &until
		return
	}
	j.State = StateFailed
	j.DelayUntil = nil
	j.FinishedAt = &now
}

// ApplyStall records a lease that expired without renewal. The job returns
// to waiting with no delay unless it has run out of attempts or has
// stalled more than maxStalled times.
func ApplyStall(j *Job, maxStalled int, now time.Time) {
	j.AttemptsMade++
	j.StalledCount++
	j.UpdatedAt = now
	release(j)

	if j.StalledCount > maxStalled || j.AttemptsMade >= j.MaxAttempts {
		j.State = StateFailed
		j.LastError = bullmq.ErrMaxStalledExceeded.Error()
		j.FinishedAt = &now
		return
	}
	j.State = StateWaiting
	j.DelayUntil = nil
}

// Stalled reports whether an active job's lease expired before now.
func Stalled(j *Job, now time.Time) bool {
	return j.State == StateActive && j.LockExpiresAt != nil && j.LockExpiresAt.Before(now)
}

// ClampProgress bounds a progress value to 0..100.
func ClampProgress(v int) int {
	return min(max(v, 0), 100)
}

func release(j *Job) {
	j.LockOwner = ""
	j.LockExpiresAt = nil
}
