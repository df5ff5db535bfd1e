package award

import (
	"fmt"

	"rewardflow/internal/service/rule"
	"rewardflow/pkg/log"
)

// Registry maps normalized prize codes to handlers. Registration
// happens once at startup; a duplicate code is a wiring bug and stops
// the process before it can issue anything wrong.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Fatal on duplicate prize codes.
func (r *Registry) Register(h Handler) {
	code := rule.NormalizePrizeCode(h.PrizeCode())
	if _, exists := r.handlers[code]; exists {
		log.Fatalf("Duplicate award handler registration for prize code %s", code)
	}
	r.handlers[code] = h
	log.Infof("Award handler registered: %s -> %s", code, h.EventType())
}

// Get resolves the handler for a prize code.
func (r *Registry) Get(prizeCode string) (Handler, error) {
	h, ok := r.handlers[rule.NormalizePrizeCode(prizeCode)]
	if !ok {
		return nil, fmt.Errorf("no award handler for prize code %q", prizeCode)
	}
	return h, nil
}
