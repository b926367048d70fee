package job

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the job type the handler is registered under.
	Type string

	// Handler processes the decoded payload.
	Handler func(ctx *Context, payload T) (any, error)

	// Opts are the enqueue defaults for this type.
	Opts []Option
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](typ string, handler func(ctx *Context, payload T) (any, error), opts ...Option) *Definition[T] {
	return &Definition[T]{
		Type:    typ,
		Handler: handler,
		Opts:    opts,
	}
}
