package job

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	bullmq "github.com/ozandndar/reddis-bullmq"
)

// HandlerFunc executes a job. A nil error completes the job with the
// returned value as its result; a non-nil error fails the attempt.
type HandlerFunc func(ctx *Context, j *Job) (any, error)

// Registry maps job types to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register associates a handler with a job type. At most one handler may
// be registered per type; a second registration returns
// bullmq.ErrHandlerConflict.
func (r *Registry) Register(typ string, h HandlerFunc) error {
	if typ == "" {
		return fmt.Errorf("job: register: empty job type")
	}
	if h == nil {
		return fmt.Errorf("job: register %q: nil handler", typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		return fmt.Errorf("%w: %q", bullmq.ErrHandlerConflict, typ)
	}
	r.handlers[typ] = h
	return nil
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) error {
	return r.Register(def.Type, func(ctx *Context, j *Job) (any, error) {
		var t T
		if len(j.Payload) > 0 {
			if err := json.Unmarshal(j.Payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job %q: %w", def.Type, err)
			}
		}
		return def.Handler(ctx, t)
	})
}

// Get returns the handler for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Get(typ string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

// Types returns all registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for typ := range r.handlers {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
