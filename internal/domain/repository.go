package domain

import "context"

// Backend is one mechanism for running privileged operations.
// Implementations: ShizukuBackend (IPC broker), ShellBackend (su/rish), NoOpBackend.
type Backend interface {
	// Type identifies the variant.
	Type() BackendType

	// Initialize checks the mechanism. Returns true when it is usable.
	Initialize(ctx context.Context) bool

	// IsAvailable reports whether the mechanism is reachable.
	IsAvailable() bool

	// HasPermission reports whether privileged calls will be honored.
	HasPermission() bool

	// RequestPermission asks for a grant. Returns true if a request was
	// issued or permission is already held.
	RequestPermission(requestCode int) bool

	// ExecuteCommand runs command through `sh -c`. Failures are *BackendError.
	ExecuteCommand(ctx context.Context, command string) (string, error)

	// GetInstalledPackages lists package names from the package manager.
	GetInstalledPackages(ctx context.Context) ([]string, error)

	// InstallPackage installs an APK. Returns true when the tool reports success.
	InstallPackage(ctx context.Context, apkPath string) (bool, error)

	// UninstallPackage removes a package by name.
	UninstallPackage(ctx context.Context, packageName string) (bool, error)

	// SetComponentEnabled enables or disables pkg/component.
	SetComponentEnabled(ctx context.Context, packageName, component string, enabled bool) (bool, error)

	// IsOperationSupported reports coarse capability support.
	IsOperationSupported(op PrivilegedOperation) bool

	// StatusDescription is a one-line human readable summary.
	StatusDescription() string

	// Cleanup releases listeners and resources. Safe to call more than once.
	Cleanup()
}

// BackendCallbacks receives asynchronous lifecycle events from a backend.
// The originating backend is passed so stale events can be ignored.
type BackendCallbacks interface {
	OnBinderReceived(b Backend)
	OnBinderDead(b Backend)
	OnPermissionResult(b Backend, granted bool)
}

// BrokerListener receives raw events from an out-of-process broker.
type BrokerListener interface {
	OnBinderReceived()
	OnBinderDead()
	OnPermissionResult(requestCode int, granted bool)
}

// Subscription is the handle returned by Broker.Subscribe.
type Subscription interface {
	// Unsubscribe removes the listener. A second call returns ErrNotSubscribed.
	Unsubscribe() error
}

// Broker is the client side of the privilege broker IPC channel.
type Broker interface {
	// Ping reports whether the broker is reachable.
	Ping(ctx context.Context) bool

	// Version returns the broker API version.
	Version(ctx context.Context) (int, error)

	// UID returns the uid the broker runs commands as (0 root, 2000 adb).
	UID(ctx context.Context) (int, error)

	// CheckSelfPermission reports whether this client has been granted access.
	CheckSelfPermission(ctx context.Context) (bool, error)

	// ShouldShowRequestPermissionRationale is true after a "don't ask again" denial.
	ShouldShowRequestPermissionRationale(ctx context.Context) (bool, error)

	// RequestPermission starts an asynchronous grant prompt. The result
	// arrives through BrokerListener.OnPermissionResult.
	RequestPermission(ctx context.Context, requestCode int) error

	// NewProcess runs argv through the broker. Returns ErrProcessUnsupported
	// when the broker has no process-creation surface.
	NewProcess(ctx context.Context, argv []string) (CommandResult, error)

	// Subscribe registers the single listener. A second call returns
	// ErrAlreadySubscribed until the first subscription is released.
	Subscribe(l BrokerListener) (Subscription, error)
}

// CommandRunner spawns OS processes.
// Non-zero exit is reported through CommandResult.ExitCode, not as an error.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// RootMethod is a way of elevating a shell command (su, rish).
type RootMethod interface {
	// Name returns the method name ("su", "rish").
	Name() string

	// Argv wraps an already-escaped shell command line.
	Argv(shellCommand string) []string
}

// PolicyStore persists the privileged Policy.
type PolicyStore interface {
	Load() (Policy, error)
	Save(p Policy) error
}

// ExecPolicyStore persists the exec allow-list document.
type ExecPolicyStore interface {
	// Load never fails hard: parse errors yield defaults plus the error for logging.
	Load() (ExecPolicy, error)
	Save(p ExecPolicy) error
}

// BackendManager is the uniform privileged surface used by the gateway.
type BackendManager interface {
	Initialize(ctx context.Context) bool
	ReselectBackend(ctx context.Context) Status

	Status() Status
	BackendType() BackendType
	IsPrivilegedAvailable() bool
	HasPermission() bool
	StatusDescription() string
	RequestPrivilegedPermission(requestCode int) bool

	ExecuteCommand(ctx context.Context, command string) (string, error)
	GetInstalledPackages(ctx context.Context) ([]string, error)
	InstallPackage(ctx context.Context, apkPath string) (bool, error)
	UninstallPackage(ctx context.Context, packageName string) (bool, error)
	SetComponentEnabled(ctx context.Context, packageName, component string, enabled bool) (bool, error)

	Cleanup()
}

// NotificationSource is the read-only notification/media snapshot provider.
// Snapshots are JSON-ready objects.
type NotificationSource interface {
	IsListenerConnected() bool
	NowPlayingSnapshot() map[string]any
	NowPlayingArtSnapshot() map[string]any
	NotificationsSnapshot() map[string]any
}

// PackageSource enumerates installed apps.
type PackageSource interface {
	ListApps(ctx context.Context) ([]AppInfo, error)
}

// AudioController reads and sets stream volumes.
type AudioController interface {
	// StreamVolume returns the current state and range of a stream.
	// Unknown streams yield ErrInvalidStream.
	StreamVolume(ctx context.Context, stream int) (VolumeInfo, error)

	// SetStreamVolume sets a stream volume. Security refusals yield ErrForbidden.
	SetStreamVolume(ctx context.Context, stream, volume int) error
}

// ResourceSampler collects a point-in-time system resource report.
type ResourceSampler interface {
	Sample(ctx context.Context) (*ResourceReport, error)
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// Terminate sends SIGTERM.
	Terminate(pid int) error

	// KillTree kills pid and all of its descendants.
	KillTree(pid int) error

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
