package demo

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ozandndar/reddis-bullmq/engine"
	"github.com/ozandndar/reddis-bullmq/event"
)

var queueLabels = map[string]string{
	QueueEmail:    "Email",
	QueueSMS:      "SMS",
	QueuePurchase: "Purchase",
}

func label(queue string) string {
	if l, ok := queueLabels[queue]; ok {
		return l
	}
	return queue
}

// Monitor prints one line per lifecycle event of every queue to w. The
// returned function stops printing.
func Monitor(eng *engine.Engine, w io.Writer) (stop func()) {
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, format, args...)
	}

	subs := []func(){
		eng.Subscribe("", event.KindWaiting, func(e event.Event) {
			printf("%s job %s (%s) waiting\n", label(e.Queue), e.JobID, e.Type)
		}),
		eng.Subscribe("", event.KindActive, func(e event.Event) {
			printf("Processing %s job %s (%s)\n", strings.ToLower(label(e.Queue)), e.JobID, e.Type)
		}),
		eng.Subscribe("", event.KindCompleted, func(e event.Event) {
			printf("%s job %s (%s) completed successfully\n   Result: %s\n", label(e.Queue), e.JobID, e.Type, e.Result)
		}),
		eng.Subscribe("", event.KindFailed, func(e event.Event) {
			if e.WillRetry && e.NextRunAt != nil {
				printf("%s job %s (%s) failed: %v (retry at %s)\n", label(e.Queue), e.JobID, e.Type, e.Err, e.NextRunAt.Format("15:04:05"))
				return
			}
			printf("%s job %s (%s) failed: %v\n", label(e.Queue), e.JobID, e.Type, e.Err)
		}),
		eng.Subscribe("", event.KindStalled, func(e event.Event) {
			printf("%s job %s (%s) stalled\n", label(e.Queue), e.JobID, e.Type)
		}),
	}

	return func() {
		for _, unsubscribe := range subs {
			unsubscribe()
		}
	}
}
