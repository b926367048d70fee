package redis

import (
	"fmt"

	"github.com/ozandndar/reddis-bullmq/job"
)

// Redis key naming conventions. All keys share a prefix ("bull" unless
// overridden with WithPrefix).

const defaultPrefix = "bull"

type keys struct {
	prefix string
}

// member formats a job id so that lexical order matches numeric order.
func member(id job.ID) string { return fmt.Sprintf("%020d", int64(id)) }

// seq is the global job id counter: bull:id
func (k keys) seq() string { return k.prefix + ":id" }

// jobPrefix is prepended to a member to form a job key.
func (k keys) jobPrefix() string { return k.prefix + ":job:" }

// job returns the Hash key of a job: bull:job:{id}
func (k keys) job(id job.ID) string { return k.jobPrefix() + member(id) }

// logs returns the List key holding a job's log lines: bull:job:{id}:logs
func (k keys) logs(id job.ID) string { return k.job(id) + ":logs" }

// state returns the Sorted Set key of a queue state: bull:{queue}:{state}
func (k keys) state(queue string, s job.State) string {
	name := string(s)
	if s == job.StateWaiting {
		name = "wait"
	}
	return k.prefix + ":" + queue + ":" + name
}
