// Package domain contains core entities and interfaces for the privileged
// backend manager and the local gateway. No external dependencies.
package domain

import "fmt"

// BackendType identifies a privileged backend variant.
type BackendType string

const (
	BackendShizuku BackendType = "SHIZUKU"
	BackendShell   BackendType = "SHELL"
	BackendNone    BackendType = "NONE"
)

// BackendState is the manager's externally visible lifecycle state.
type BackendState string

const (
	StateUninitialized        BackendState = "UNINITIALIZED"
	StateInitializing         BackendState = "INITIALIZING"
	StateReady                BackendState = "READY"
	StatePermissionRequesting BackendState = "PERMISSION_REQUESTING"
	StatePermissionDenied     BackendState = "PERMISSION_DENIED"
	StateServiceNotRunning    BackendState = "SERVICE_NOT_RUNNING"
	StateFallbackShell        BackendState = "FALLBACK_SHELL"
	StateUnavailable          BackendState = "UNAVAILABLE"
)

// StatusReason explains why the manager is in its current state.
type StatusReason string

const (
	ReasonGranted              StatusReason = "GRANTED"
	ReasonPermissionRequesting StatusReason = "PERMISSION_REQUESTING"
	ReasonDenied               StatusReason = "DENIED"
	ReasonServiceNotRunning    StatusReason = "SERVICE_NOT_RUNNING"
	ReasonBinderDead           StatusReason = "BINDER_DEAD"
	ReasonFallbackShell        StatusReason = "FALLBACK_SHELL"
	ReasonUnavailable          StatusReason = "UNAVAILABLE"
)

// Status is the (state, reason, message) triple. Always replaced as a whole.
type Status struct {
	State   BackendState
	Reason  StatusReason
	Message string
}

// Endpoint names a gateway operation that can be switched off by policy.
type Endpoint string

const (
	EndpointRequestPermission Endpoint = "request_permission"
	EndpointExec              Endpoint = "exec"
	EndpointBrightness        Endpoint = "brightness"
	EndpointVolume            Endpoint = "volume"
	EndpointLockScreen        Endpoint = "lock_screen"
)

// Policy holds the persisted privileged toggles.
// It is loaded fresh for every privileged operation.
type Policy struct {
	MasterEnabled      bool
	PreferShizuku      bool
	AllowShellFallback bool

	RequestPermissionEnabled bool
	ExecEnabled              bool
	BrightnessEnabled        bool
	VolumeEnabled            bool
	LockScreenEnabled        bool
}

// IsEndpointEnabled reports the per-endpoint flag. The master toggle is
// checked separately by callers.
func (p Policy) IsEndpointEnabled(e Endpoint) bool {
	switch e {
	case EndpointRequestPermission:
		return p.RequestPermissionEnabled
	case EndpointExec:
		return p.ExecEnabled
	case EndpointBrightness:
		return p.BrightnessEnabled
	case EndpointVolume:
		return p.VolumeEnabled
	case EndpointLockScreen:
		return p.LockScreenEnabled
	default:
		return true
	}
}

// SetEndpointEnabled updates a single per-endpoint flag.
func (p *Policy) SetEndpointEnabled(e Endpoint, enabled bool) {
	switch e {
	case EndpointRequestPermission:
		p.RequestPermissionEnabled = enabled
	case EndpointExec:
		p.ExecEnabled = enabled
	case EndpointBrightness:
		p.BrightnessEnabled = enabled
	case EndpointVolume:
		p.VolumeEnabled = enabled
	case EndpointLockScreen:
		p.LockScreenEnabled = enabled
	}
}

// ExecPolicy is the user-editable allow-list for the exec endpoint.
// Persisted as ~/.tooie/config.json.
type ExecPolicy struct {
	ExecEnabled            bool     `json:"execEnabled"`
	AllowedCommandPrefixes []string `json:"allowedCommandPrefixes"`
}

// PrivilegedOperation is a coarse capability a backend may support.
type PrivilegedOperation string

const (
	OpGetInstalledPackages PrivilegedOperation = "get_installed_packages"
	OpInstallPackage       PrivilegedOperation = "install_package"
	OpUninstallPackage     PrivilegedOperation = "uninstall_package"
	OpSetComponentEnabled  PrivilegedOperation = "set_component_enabled"
	OpExecuteCommand       PrivilegedOperation = "execute_command"
	OpSystemSettingsModify PrivilegedOperation = "system_settings_modify"
	OpFileSystem           PrivilegedOperation = "file_system_operations"
	OpServiceControl       PrivilegedOperation = "service_control"
	OpProcessManagement    PrivilegedOperation = "process_management"
)

// AllOperations lists every known operation in declaration order.
var AllOperations = []PrivilegedOperation{
	OpGetInstalledPackages,
	OpInstallPackage,
	OpUninstallPackage,
	OpSetComponentEnabled,
	OpExecuteCommand,
	OpSystemSettingsModify,
	OpFileSystem,
	OpServiceControl,
	OpProcessManagement,
}

// OperationFromKey returns the operation for key, or false if unknown.
func OperationFromKey(key string) (PrivilegedOperation, bool) {
	for _, op := range AllOperations {
		if string(op) == key {
			return op, true
		}
	}
	return "", false
}

// CommandResult is the raw outcome of a spawned process.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// AppInfo describes one installed package.
type AppInfo struct {
	PackageName string `json:"packageName"`
	Label       string `json:"label"`
	SystemApp   bool   `json:"systemApp"`
}

// VolumeInfo is the state of a single audio stream.
type VolumeInfo struct {
	Stream  int
	Current int
	Min     int
	Max     int
}

// ErrorKind classifies a BackendError.
type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable"
	KindPermission  ErrorKind = "permission"
	KindTimeout     ErrorKind = "timeout"
	KindSpawn       ErrorKind = "spawn"
	KindExit        ErrorKind = "exit"
	KindUnsupported ErrorKind = "unsupported"
	KindInvalid     ErrorKind = "invalid"
)

// BackendError is the failure value returned by every backend operation.
// Error() renders the text form clients see in command output.
type BackendError struct {
	Kind    ErrorKind
	Code    int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Kind == KindExit {
		return fmt.Sprintf("Error (%d): %s", e.Code, e.Message)
	}
	return "Error: " + e.Message
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError builds a BackendError of the given kind.
func NewBackendError(kind ErrorKind, message string, err error) *BackendError {
	return &BackendError{Kind: kind, Message: message, Err: err}
}
