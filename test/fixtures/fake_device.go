// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"strings"
	"sync"

	"github.com/eliteGoblin/tooie/internal/broker"
	"github.com/eliteGoblin/tooie/internal/domain"
)

// FakeDevice is a broker handler that answers shell commands from a
// script instead of running them.
type FakeDevice struct {
	mu        sync.Mutex
	granted   bool
	autoGrant bool
	replies   map[string]broker.Response
	commands  []string
}

// NewFakeDevice creates a device. With granted, the broker reports the
// permission as already held.
func NewFakeDevice(granted bool) *FakeDevice {
	d := &FakeDevice{granted: granted, autoGrant: true, replies: map[string]broker.Response{}}
	d.Reply("settings get system screen_brightness", "128\n")
	d.Reply("cmd media_session volume --stream 3 --get", "volume is 5 in range [0..15]\n")
	return d
}

// Reply scripts stdout for an exact command line.
func (d *FakeDevice) Reply(command, stdout string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies[command] = broker.Response{OK: true, Stdout: stdout}
}

// Fail scripts a non-zero exit for an exact command line.
func (d *FakeDevice) Fail(command string, exitCode int, stderr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replies[command] = broker.Response{OK: true, Stderr: stderr, ExitCode: exitCode}
}

// SetAutoGrant controls the answer to permission requests.
func (d *FakeDevice) SetAutoGrant(grant bool) {
	d.mu.Lock()
	d.autoGrant = grant
	d.mu.Unlock()
}

// Commands returns every command line executed so far.
func (d *FakeDevice) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.commands))
	copy(out, d.commands)
	return out
}

func (d *FakeDevice) Version() int { return broker.ProtocolVersion }

func (d *FakeDevice) UID() int { return 2000 }

func (d *FakeDevice) CheckPermission() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.granted
}

func (d *FakeDevice) Rationale() bool { return false }

func (d *FakeDevice) RequestPermission(ctx context.Context, requestCode int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.autoGrant {
		d.granted = true
	}
	return d.granted
}

// Exec expects the `sh -c <command>` argv the IPC backend sends.
func (d *FakeDevice) Exec(ctx context.Context, argv []string) broker.Response {
	command := strings.Join(argv, " ")
	if len(argv) == 3 && argv[0] == "sh" && argv[1] == "-c" {
		command = argv[2]
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, command)

	if resp, ok := d.replies[command]; ok {
		return resp
	}
	if value, ok := strings.CutPrefix(command, "settings put system screen_brightness "); ok {
		d.replies["settings get system screen_brightness"] = broker.Response{OK: true, Stdout: value + "\n"}
		return broker.Response{OK: true}
	}
	if strings.HasPrefix(command, "echo ") {
		return broker.Response{OK: true, Stdout: strings.TrimPrefix(command, "echo ") + "\n"}
	}
	return broker.Response{OK: true}
}

var _ broker.Handler = (*FakeDevice)(nil)

// NoRoot is a detector that never finds su or rish.
type NoRoot struct{}

func (NoRoot) Detect(ctx context.Context) domain.RootMethod { return nil }
