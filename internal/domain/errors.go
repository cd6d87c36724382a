package domain

import "errors"

var (
	// ErrPermissionRequired means the IPC backend needs a user grant first.
	// Retryable: the caller should poll status and try again.
	ErrPermissionRequired = errors.New("privileged permission required")

	// ErrBackendUnavailable means no usable privileged backend is installed.
	ErrBackendUnavailable = errors.New("no privileged backend available")

	// ErrAlreadySubscribed is returned by Broker.Subscribe on a second call.
	ErrAlreadySubscribed = errors.New("broker listener already subscribed")

	// ErrNotSubscribed is returned when releasing a subscription twice.
	ErrNotSubscribed = errors.New("broker listener not subscribed")

	// ErrProcessUnsupported is returned by brokers that cannot spawn processes.
	ErrProcessUnsupported = errors.New("broker does not support process creation")

	// ErrForbidden marks an OS-level security refusal.
	ErrForbidden = errors.New("operation forbidden by system")

	// ErrInvalidStream is returned for an unknown audio stream.
	ErrInvalidStream = errors.New("invalid stream type")

	// ErrManagerClosed is returned after Cleanup.
	ErrManagerClosed = errors.New("backend manager closed")
)
