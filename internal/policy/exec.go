package policy

import (
	"strings"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// MaxExecCommandLength caps /v1/exec commands after trimming.
const MaxExecCommandLength = 512

// DefaultCommandPrefixes is the allow-list written on first run.
var DefaultCommandPrefixes = []string{"id", "pm list packages", "cmd package list packages"}

// DefaultExecPolicy returns exec disabled with the default allow-list.
func DefaultExecPolicy() domain.ExecPolicy {
	prefixes := make([]string, len(DefaultCommandPrefixes))
	copy(prefixes, DefaultCommandPrefixes)
	return domain.ExecPolicy{
		ExecEnabled:            false,
		AllowedCommandPrefixes: prefixes,
	}
}

// NormalizeExecPolicy trims prefixes and drops blanks. An empty result
// falls back to the default allow-list.
func NormalizeExecPolicy(p domain.ExecPolicy) domain.ExecPolicy {
	prefixes := make([]string, 0, len(p.AllowedCommandPrefixes))
	for _, prefix := range p.AllowedCommandPrefixes {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			prefixes = append(prefixes, trimmed)
		}
	}
	if len(prefixes) == 0 {
		prefixes = DefaultExecPolicy().AllowedCommandPrefixes
	}
	return domain.ExecPolicy{ExecEnabled: p.ExecEnabled, AllowedCommandPrefixes: prefixes}
}

// IsCommandAllowed matches on a token boundary: the command must equal a
// prefix or continue it with a space. "pm list packagesX" does not match
// "pm list packages".
func IsCommandAllowed(command string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if command == prefix || strings.HasPrefix(command, prefix+" ") {
			return true
		}
	}
	return false
}

// ContainsControlChars reports any byte below 0x20 other than tab.
func ContainsControlChars(command string) bool {
	for i := 0; i < len(command); i++ {
		c := command[i]
		if c < 32 && c != '\t' {
			return true
		}
	}
	return false
}
