package payments

import (
	"github.com/openmartlabs/openmart-backend/pkg/enums"
	pkgerrors "github.com/openmartlabs/openmart-backend/pkg/errors"
)

// Registry resolves the provider for a payment method. Registration
// happens once at startup; lookups after that are read-only.
type Registry struct {
	byMethod map[enums.PaymentMethod]Provider
	byName   map[string]Provider
}

// NewRegistry builds a registry over the given providers. A duplicate
// method registration is a wiring bug and fails fast.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{
		byMethod: make(map[enums.PaymentMethod]Provider, len(providers)),
		byName:   make(map[string]Provider, len(providers)),
	}
	for _, p := range providers {
		if p == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "nil payment provider")
		}
		if _, exists := r.byMethod[p.Method()]; exists {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "duplicate provider for method "+p.Method().String())
		}
		r.byMethod[p.Method()] = p
		r.byName[p.Name()] = p
	}
	return r, nil
}

// ForMethod returns the provider that handles the given payment method.
func (r *Registry) ForMethod(method enums.PaymentMethod) (Provider, error) {
	p, ok := r.byMethod[method]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method").
			WithDetails(map[string]any{"method": method})
	}
	return p, nil
}

// ForName returns the provider by its wire name, used when routing
// gateway callbacks.
func (r *Registry) ForName(name string) (Provider, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment provider").
			WithDetails(map[string]any{"provider": name})
	}
	return p, nil
}
