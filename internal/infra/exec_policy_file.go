package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/eliteGoblin/tooie/internal/domain"
	"github.com/eliteGoblin/tooie/internal/policy"
)

// ExecPolicyFile implements domain.ExecPolicyStore on ~/.tooie/config.json.
// The file is user-edited, so comments and trailing commas are accepted and
// fields of the wrong type are ignored instead of failing the whole load.
type ExecPolicyFile struct {
	path string
}

// NewExecPolicyFile creates a store for path.
func NewExecPolicyFile(path string) *ExecPolicyFile {
	return &ExecPolicyFile{path: path}
}

// Path returns the config file path.
func (f *ExecPolicyFile) Path() string {
	return f.path
}

// EnsureDefault writes the default document if the file does not exist.
// Returns true when a file was created.
func (f *ExecPolicyFile) EnsureDefault() (bool, error) {
	if _, err := os.Stat(f.path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := f.Save(policy.DefaultExecPolicy()); err != nil {
		return false, err
	}
	return true, nil
}

// Load reads the allow-list. A missing file yields defaults with no error;
// an unparsable file yields defaults plus the parse error.
func (f *ExecPolicyFile) Load() (domain.ExecPolicy, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return policy.DefaultExecPolicy(), nil
		}
		return policy.DefaultExecPolicy(), fmt.Errorf("failed to read exec config: %w", err)
	}
	return ParseExecPolicy(data)
}

// ParseExecPolicy decodes a JSONC exec policy document.
func ParseExecPolicy(data []byte) (domain.ExecPolicy, error) {
	var doc map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return policy.DefaultExecPolicy(), fmt.Errorf("failed to parse exec config: %w", err)
	}

	p := domain.ExecPolicy{}
	if enabled, ok := doc["execEnabled"].(bool); ok {
		p.ExecEnabled = enabled
	}
	if list, ok := doc["allowedCommandPrefixes"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				p.AllowedCommandPrefixes = append(p.AllowedCommandPrefixes, strings.TrimSpace(s))
			}
		}
	}
	return policy.NormalizeExecPolicy(p), nil
}

// Save writes p as indented JSON followed by a newline, owner-only.
func (f *ExecPolicyFile) Save(p domain.ExecPolicy) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode exec config: %w", err)
	}
	data = append(data, '\n')
	if err := WriteOwnerOnly(f.path, data); err != nil {
		return fmt.Errorf("failed to write exec config: %w", err)
	}
	return nil
}

// Ensure ExecPolicyFile implements domain.ExecPolicyStore.
var _ domain.ExecPolicyStore = (*ExecPolicyFile)(nil)
