// Package policy holds the privileged toggles, the endpoint registry and the
// exec allow-list rules. Both the backend manager and the gateway read policy
// through here.
package policy

import (
	"fmt"
	"sort"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// Persisted key names. The on-disk format stays key/value.
const (
	KeyMasterEnabled      = "priv_master_enabled"
	KeyPreferShizuku      = "priv_prefer_shizuku"
	KeyAllowShellFallback = "priv_allow_shell_fallback"

	KeyEndpointRequestPermission = "priv_endpoint_request_permission"
	KeyEndpointExec              = "priv_endpoint_exec"
	KeyEndpointBrightness        = "priv_endpoint_brightness"
	KeyEndpointVolume            = "priv_endpoint_volume"
	KeyEndpointLockScreen        = "priv_endpoint_lock_screen"
)

// DefaultPolicy returns the policy used when nothing is persisted.
// Every toggle defaults to enabled.
func DefaultPolicy() domain.Policy {
	return domain.Policy{
		MasterEnabled:            true,
		PreferShizuku:            true,
		AllowShellFallback:       true,
		RequestPermissionEnabled: true,
		ExecEnabled:              true,
		BrightnessEnabled:        true,
		VolumeEnabled:            true,
		LockScreenEnabled:        true,
	}
}

// ToKeyValues flattens p into its persisted key/value form.
func ToKeyValues(p domain.Policy) map[string]bool {
	return map[string]bool{
		KeyMasterEnabled:             p.MasterEnabled,
		KeyPreferShizuku:             p.PreferShizuku,
		KeyAllowShellFallback:        p.AllowShellFallback,
		KeyEndpointRequestPermission: p.RequestPermissionEnabled,
		KeyEndpointExec:              p.ExecEnabled,
		KeyEndpointBrightness:        p.BrightnessEnabled,
		KeyEndpointVolume:            p.VolumeEnabled,
		KeyEndpointLockScreen:        p.LockScreenEnabled,
	}
}

// FromKeyValues rebuilds a Policy. Missing keys take their default.
// Unknown keys are ignored.
func FromKeyValues(values map[string]bool) domain.Policy {
	p := DefaultPolicy()
	for key, v := range values {
		_ = Set(&p, key, v)
	}
	return p
}

// Keys returns every persisted key in stable order.
func Keys() []string {
	keys := make([]string, 0, 8)
	for k := range ToKeyValues(DefaultPolicy()) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set updates a single toggle by persisted key.
func Set(p *domain.Policy, key string, enabled bool) error {
	switch key {
	case KeyMasterEnabled:
		p.MasterEnabled = enabled
	case KeyPreferShizuku:
		p.PreferShizuku = enabled
	case KeyAllowShellFallback:
		p.AllowShellFallback = enabled
	default:
		spec, ok := NewRegistry().ForKey(key)
		if !ok {
			return fmt.Errorf("unknown policy key: %s", key)
		}
		p.SetEndpointEnabled(spec.Endpoint, enabled)
	}
	return nil
}

// Fingerprint returns a comparable summary of the fields that drive
// backend selection. Endpoint flags do not affect selection.
func Fingerprint(p domain.Policy) string {
	return fmt.Sprintf("master=%t prefer=%t fallback=%t", p.MasterEnabled, p.PreferShizuku, p.AllowShellFallback)
}
