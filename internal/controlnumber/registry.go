package controlnumber

import "fmt"

// Registry resolves the scheme of a tenant. It is built once and never mutated.
type Registry struct {
	def     Scheme
	tenants map[string]Scheme
}

// NewRegistry validates and captures the default scheme and the per-tenant
// overrides. The inputs are copied, so later changes to them have no effect.
func NewRegistry(def Scheme, tenants map[string]Scheme) (*Registry, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("default scheme: %w", err)
	}
	r := &Registry{
		def:     def.Clone(),
		tenants: make(map[string]Scheme, len(tenants)),
	}
	for tenantID, s := range tenants {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("scheme for tenant %q: %w", tenantID, err)
		}
		r.tenants[tenantID] = s.Clone()
	}
	return r, nil
}

// For returns a copy of the scheme that applies to tenantID.
func (r *Registry) For(tenantID string) Scheme {
	if s, ok := r.tenants[tenantID]; ok {
		return s.Clone()
	}
	return r.def.Clone()
}

// HasOverride reports whether tenantID has its own scheme.
func (r *Registry) HasOverride(tenantID string) bool {
	_, ok := r.tenants[tenantID]
	return ok
}
