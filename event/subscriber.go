package event

import (
	"log/slog"
	"sync"

	"github.com/ozandndar/reddis-bullmq/id"
)

// subscriber owns a bounded buffer drained by its own goroutine, so a
// slow callback only ever delays itself.
type subscriber struct {
	id    id.SubscriptionID
	queue string
	kind  Kind
	fn    func(Event)
	ch    chan Event
	once  sync.Once
}

func newSubscriber(queue string, kind Kind, fn func(Event), size int) *subscriber {
	return &subscriber{
		id:    id.NewSubscriptionID(),
		queue: queue,
		kind:  kind,
		fn:    fn,
		ch:    make(chan Event, size),
	}
}

func (s *subscriber) matches(evt Event) bool {
	return s.kind == evt.Kind && (s.queue == "" || s.queue == evt.Queue)
}

// send enqueues evt without blocking. It reports false when the buffer
// is full. Callers hold the bus read lock, so ch is open.
func (s *subscriber) send(evt Event) bool {
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

// close stops intake; run drains what is already buffered.
func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

func (s *subscriber) run(logger *slog.Logger) {
	for evt := range s.ch {
		s.deliver(evt, logger)
	}
}

func (s *subscriber) deliver(evt Event, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event subscriber panicked",
				slog.String("subscription_id", s.id.String()),
				slog.String("kind", string(evt.Kind)),
				slog.Any("panic", r),
			)
		}
	}()
	s.fn(evt)
}
