package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fleetguard/warden/pkg/fleet"
)

// Request is what a handler receives for one attempt.
type Request struct {
	Index          int
	Action         Action
	IdempotencyKey string
	Context        *Context
}

// Handler performs one action type.
type Handler interface {
	Handle(ctx context.Context, req Request) (map[string]interface{}, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (map[string]interface{}, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req Request) (map[string]interface{}, error) {
	return f(ctx, req)
}

// ParameterValidator is implemented by handlers that can check parameters
// before a policy is activated.
type ParameterValidator interface {
	ValidateParameters(params map[string]interface{}) error
}

// Idempotent is implemented by handlers whose collaborator calls are safe to
// repeat under the same idempotency key.
type Idempotent interface {
	Idempotent() bool
}

// Registry maps action types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
}

// NewRegistry creates a registry with the built-in handlers bound to the
// given collaborators.
func NewRegistry(c fleet.Collaborators) *Registry {
	r := &Registry{handlers: make(map[Type]Handler)}
	r.Register(TypeNotify, &notifyHandler{notifier: c.Notifier})
	r.Register(TypeRequireAcknowledgment, &acknowledgmentHandler{notifier: c.Notifier})
	r.Register(TypeCreateWorkOrder, &workOrderHandler{workOrders: c.WorkOrders})
	r.Register(TypeUpdateEntityStatus, &statusHandler{status: c.Status})
	r.Register(TypeRecordViolation, &violationHandler{})
	return r
}

// Register adds or replaces the handler for a type.
func (r *Registry) Register(t Type, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Lookup returns the handler for a type.
func (r *Registry) Lookup(t Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns the registered types in sorted order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Validate checks that every action has a handler and valid parameters.
func (r *Registry) Validate(actions []Action) error {
	for i, a := range actions {
		h, ok := r.Lookup(a.Type)
		if !ok {
			return fmt.Errorf("action %d: %w: %q", i, ErrUnknownType, a.Type)
		}
		if a.Timeout < 0 {
			return fmt.Errorf("action %d: timeout cannot be negative", i)
		}
		if v, ok := h.(ParameterValidator); ok {
			if err := v.ValidateParameters(a.Parameters); err != nil {
				return fmt.Errorf("action %d: %w", i, err)
			}
		}
	}
	return nil
}

// Resumable reports whether every action in the list can be re-run safely
// after a crash.
func (r *Registry) Resumable(actions []Action) bool {
	for _, a := range actions {
		h, ok := r.Lookup(a.Type)
		if !ok {
			return false
		}
		idem, ok := h.(Idempotent)
		if !ok || !idem.Idempotent() {
			return false
		}
	}
	return true
}
