package policy

import (
	"github.com/eliteGoblin/tooie/internal/domain"
)

// EndpointSpec binds a policy-gated endpoint to its API path, its persisted
// key and its name in the status summary.
type EndpointSpec struct {
	Endpoint    domain.Endpoint
	Path        string
	Key         string
	SummaryName string
}

// Registry holds the gated endpoints in declaration order.
type Registry struct {
	specs  []EndpointSpec
	byPath map[string]EndpointSpec
	byKey  map[string]EndpointSpec
	byID   map[domain.Endpoint]EndpointSpec
}

// NewRegistry creates a registry with the five privileged endpoints.
func NewRegistry() *Registry {
	r := newEmptyRegistry()

	r.Register(EndpointSpec{domain.EndpointRequestPermission, "/v1/privileged/request-permission", KeyEndpointRequestPermission, "requestPermission"})
	r.Register(EndpointSpec{domain.EndpointExec, "/v1/exec", KeyEndpointExec, "exec"})
	r.Register(EndpointSpec{domain.EndpointBrightness, "/v1/system/brightness", KeyEndpointBrightness, "brightness"})
	r.Register(EndpointSpec{domain.EndpointVolume, "/v1/system/volume", KeyEndpointVolume, "volume"})
	r.Register(EndpointSpec{domain.EndpointLockScreen, "/v1/screen/lock", KeyEndpointLockScreen, "lockScreen"})

	return r
}

// NewRegistryWithSpecs creates a registry with custom specs (for testing).
func NewRegistryWithSpecs(specs ...EndpointSpec) *Registry {
	r := newEmptyRegistry()
	for _, s := range specs {
		r.Register(s)
	}
	return r
}

func newEmptyRegistry() *Registry {
	return &Registry{
		byPath: make(map[string]EndpointSpec),
		byKey:  make(map[string]EndpointSpec),
		byID:   make(map[domain.Endpoint]EndpointSpec),
	}
}

// Register adds or replaces a spec.
func (r *Registry) Register(s EndpointSpec) {
	if _, exists := r.byID[s.Endpoint]; !exists {
		r.specs = append(r.specs, s)
	} else {
		for i := range r.specs {
			if r.specs[i].Endpoint == s.Endpoint {
				r.specs[i] = s
			}
		}
	}
	r.byID[s.Endpoint] = s
	r.byPath[s.Path] = s
	r.byKey[s.Key] = s
}

// Get returns the entry for an endpoint.
func (r *Registry) Get(e domain.Endpoint) (EndpointSpec, bool) {
	s, ok := r.byID[e]
	return s, ok
}

// ForPath returns the entry gating an API path.
func (r *Registry) ForPath(path string) (EndpointSpec, bool) {
	s, ok := r.byPath[path]
	return s, ok
}

// ForKey returns the entry stored under a persisted key.
func (r *Registry) ForKey(key string) (EndpointSpec, bool) {
	s, ok := r.byKey[key]
	return s, ok
}

// GetAll returns all specs in registration order.
func (r *Registry) GetAll() []EndpointSpec {
	out := make([]EndpointSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// List returns the registered endpoints.
func (r *Registry) List() []domain.Endpoint {
	ids := make([]domain.Endpoint, 0, len(r.specs))
	for _, s := range r.specs {
		ids = append(ids, s.Endpoint)
	}
	return ids
}
