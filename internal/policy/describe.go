package policy

import (
	"sync"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// Describe renders the privileged policy summary used by status endpoints.
func Describe(p domain.Policy) map[string]any {
	reg := NewRegistry()
	endpoints := make(map[string]any, len(reg.specs))
	for _, spec := range reg.GetAll() {
		endpoints[spec.SummaryName] = p.IsEndpointEnabled(spec.Endpoint)
	}
	return map[string]any{
		"available":          true,
		"masterEnabled":      p.MasterEnabled,
		"preferShizuku":      p.PreferShizuku,
		"allowShellFallback": p.AllowShellFallback,
		"endpoints":          endpoints,
	}
}

// DescribeUnavailable is the summary when the policy store cannot be read.
func DescribeUnavailable() map[string]any {
	return map[string]any{"available": false}
}

// DescribeExec renders the exec allow-list summary.
func DescribeExec(p domain.ExecPolicy) map[string]any {
	prefixes := make([]string, len(p.AllowedCommandPrefixes))
	copy(prefixes, p.AllowedCommandPrefixes)
	return map[string]any{
		"enabled":                p.ExecEnabled,
		"allowedCommandPrefixes": prefixes,
	}
}

// MemoryStore is an in-process domain.PolicyStore.
type MemoryStore struct {
	mu     sync.RWMutex
	policy domain.Policy
}

// NewMemoryStore creates a store holding p.
func NewMemoryStore(p domain.Policy) *MemoryStore {
	return &MemoryStore{policy: p}
}

func (s *MemoryStore) Load() (domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy, nil
}

func (s *MemoryStore) Save(p domain.Policy) error {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
	return nil
}

// Ensure MemoryStore implements domain.PolicyStore.
var _ domain.PolicyStore = (*MemoryStore)(nil)
