package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/domain"
	"github.com/eliteGoblin/tooie/internal/infra"
	"github.com/eliteGoblin/tooie/internal/policy"
)

const (
	// APIVersion is reported by status and resources.
	APIVersion = "v1"

	// DefaultExecTimeout bounds one privileged command issued by a handler.
	DefaultExecTimeout = 20 * time.Second

	// PermissionRequestCode is passed to the manager's permission request.
	PermissionRequestCode = 1001

	minBrightness       = 0
	maxBrightness       = 255
	defaultVolumeStream = 3

	lockKeyEvent         = "input keyevent 223"
	lockKeyEventFallback = "input keyevent 26"
)

// Deps are the collaborators the handlers read from.
type Deps struct {
	Manager       domain.BackendManager
	Policies      domain.PolicyStore
	ExecPolicies  domain.ExecPolicyStore
	Packages      domain.PackageSource
	Audio         domain.AudioController
	Resources     domain.ResourceSampler
	Notifications domain.NotificationSource
	Auth          *TokenAuthority
	ExecTimeout   time.Duration
}

// Handlers implements every API endpoint.
type Handlers struct {
	deps     Deps
	registry *policy.Registry
	logger   *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(deps Deps, logger *zap.Logger) *Handlers {
	if deps.ExecTimeout <= 0 {
		deps.ExecTimeout = DefaultExecTimeout
	}
	return &Handlers{deps: deps, registry: policy.NewRegistry(), logger: logger}
}

// Register adds every route to r.
func (h *Handlers) Register(r *Router) {
	r.Handle("GET", "/v1/status", h.Status)
	r.Handle("GET", "/v1/apps", h.Apps)
	r.Handle("GET", "/v1/system/resources", h.Resources)
	r.Handle("GET", "/v1/media/now-playing", h.NowPlaying)
	r.Handle("GET", "/v1/media/art", h.NowPlayingArt)
	r.Handle("GET", "/v1/notifications", h.Notifications)
	r.Handle("POST", "/v1/exec", h.Exec)
	r.Handle("POST", "/v1/system/brightness", h.Brightness)
	r.Handle("POST", "/v1/system/volume", h.Volume)
	r.Handle("POST", "/v1/privileged/request-permission", h.RequestPermission)
	r.Handle("POST", "/v1/screen/lock", h.LockScreen)
	r.Handle("POST", "/v1/auth/rotate", h.RotateToken)
}

// --- read-only endpoints ---

func (h *Handlers) Status(ctx context.Context, req *Request) (Body, error) {
	body := Body{
		"ok":                            true,
		"apiVersion":                    APIVersion,
		"notificationListenerConnected": h.listenerConnected(),
	}
	h.putBackendStatus(body)
	h.putPolicies(body)
	return body, nil
}

func (h *Handlers) Apps(ctx context.Context, req *Request) (Body, error) {
	apps, err := h.deps.Packages.ListApps(ctx)
	if err != nil {
		h.logger.Warn("failed to list apps", zap.String("request_id", req.ID), zap.Error(err))
		return failure(500, "apps_failed", err.Error()), nil
	}
	if apps == nil {
		apps = []domain.AppInfo{}
	}
	return Body{"ok": true, "count": len(apps), "apps": apps}, nil
}

func (h *Handlers) Resources(ctx context.Context, req *Request) (Body, error) {
	report, err := h.deps.Resources.Sample(ctx)
	if err != nil {
		h.logger.Warn("failed to sample resources", zap.String("request_id", req.ID), zap.Error(err))
		return failure(500, "resources_failed", err.Error()), nil
	}
	body, err := toBody(report)
	if err != nil {
		return nil, err
	}
	body["ok"] = true
	body["apiVersion"] = APIVersion
	h.putBackendStatus(body)
	h.putPolicies(body)
	return body, nil
}

func (h *Handlers) NowPlaying(ctx context.Context, req *Request) (Body, error) {
	return h.snapshot(func(s domain.NotificationSource) map[string]any { return s.NowPlayingSnapshot() }), nil
}

func (h *Handlers) NowPlayingArt(ctx context.Context, req *Request) (Body, error) {
	return h.snapshot(func(s domain.NotificationSource) map[string]any { return s.NowPlayingArtSnapshot() }), nil
}

func (h *Handlers) Notifications(ctx context.Context, req *Request) (Body, error) {
	return h.snapshot(func(s domain.NotificationSource) map[string]any { return s.NotificationsSnapshot() }), nil
}

// snapshot copies a collaborator snapshot and marks it ok.
func (h *Handlers) snapshot(get func(domain.NotificationSource) map[string]any) Body {
	body := Body{}
	if h.deps.Notifications != nil {
		for k, v := range get(h.deps.Notifications) {
			body[k] = v
		}
	}
	body["ok"] = true
	return body
}

// --- privileged endpoints ---

func (h *Handlers) Exec(ctx context.Context, req *Request) (Body, error) {
	if denied := h.guard(req.Path); denied != nil {
		return denied, nil
	}

	// A disabled exec endpoint refuses before looking at the body
	execPolicy, err := h.deps.ExecPolicies.Load()
	if err != nil {
		h.logger.Warn("failed to parse exec policy, using defaults", zap.Error(err))
	}
	if !execPolicy.ExecEnabled {
		return failure(403, "forbidden", "Exec endpoint disabled by policy"), nil
	}

	fields, bad := parseJSONBody(req.Body)
	if bad != nil {
		return bad, nil
	}

	command := strings.TrimSpace(optString(fields, "command"))
	switch {
	case command == "":
		return failure(400, "bad_request", "Missing command"), nil
	case utf8.RuneCountInString(command) > policy.MaxExecCommandLength:
		return failure(400, "bad_request", "Command too long"), nil
	case policy.ContainsControlChars(command):
		return failure(400, "bad_request", "Command contains unsupported control characters"), nil
	}

	if !policy.IsCommandAllowed(command, execPolicy.AllowedCommandPrefixes) {
		return failure(403, "forbidden", "Command not allowed by policy"), nil
	}

	m := h.deps.Manager
	if m.BackendType() == domain.BackendShizuku && !m.HasPermission() {
		return h.permissionRequired(m.RequestPrivilegedPermission(PermissionRequestCode)), nil
	}

	h.logger.Info("exec",
		zap.String("request_id", req.ID),
		zap.String("command", infra.MaskSensitive(command)))

	execCtx, cancel := context.WithTimeout(ctx, h.deps.ExecTimeout)
	defer cancel()

	output, err := m.ExecuteCommand(execCtx, command)
	if err != nil {
		var be *domain.BackendError
		switch {
		case errors.Is(err, domain.ErrPermissionRequired):
			return h.permissionRequired(false), nil
		case errors.As(err, &be) && be.Kind != domain.KindTimeout:
			output = be.Error()
		default:
			h.logger.Warn("exec failed", zap.String("request_id", req.ID), zap.Error(err))
			return failure(500, "exec_failed", errorMessage(err)), nil
		}
	}

	return Body{
		"ok":      isSuccessfulOutput(output),
		"command": command,
		"output":  output,
	}, nil
}

func (h *Handlers) permissionRequired(requested bool) Body {
	m := h.deps.Manager
	st := m.Status()
	body := failure(403, "permission_required", "Shizuku permission is required. Grant it, then retry command.")
	body["permissionRequested"] = requested
	body["backendState"] = string(st.State)
	body["statusReason"] = string(st.Reason)
	body["statusMessage"] = st.Message
	return body
}

func (h *Handlers) Brightness(ctx context.Context, req *Request) (Body, error) {
	if denied := h.guard(req.Path); denied != nil {
		return denied, nil
	}
	fields, bad := parseJSONBody(req.Body)
	if bad != nil {
		return bad, nil
	}

	target := optionalInt(fields, "brightness", "value")
	if target != nil && (*target < minBrightness || *target > maxBrightness) {
		return failure(400, "bad_request", "brightness must be between 0 and 255"), nil
	}

	setOutput := ""
	if target != nil {
		setOutput = h.executePrivileged(ctx, fmt.Sprintf("settings put system screen_brightness %d", *target))
		if !isSuccessfulOutput(setOutput) {
			return failure(500, "set_failed", setOutput), nil
		}
	}

	readOutput := h.executePrivileged(ctx, "settings get system screen_brightness")
	current := parseFirstInt(readOutput)

	body := Body{
		"ok":                current != nil,
		"setRequested":      target != nil,
		"targetBrightness":  intOrNil(target),
		"currentBrightness": intOrNil(current),
		"rangeMin":          minBrightness,
		"rangeMax":          maxBrightness,
		"rawReadOutput":     strings.TrimSpace(readOutput),
	}
	if target != nil {
		body["rawSetOutput"] = strings.TrimSpace(setOutput)
	}
	return body, nil
}

func (h *Handlers) Volume(ctx context.Context, req *Request) (Body, error) {
	if denied := h.guard(req.Path); denied != nil {
		return denied, nil
	}
	fields, bad := parseJSONBody(req.Body)
	if bad != nil {
		return bad, nil
	}

	stream := defaultVolumeStream
	if v := optionalInt(fields, "stream"); v != nil {
		stream = *v
	}
	target := optionalInt(fields, "volume", "value")

	info, err := h.deps.Audio.StreamVolume(ctx, stream)
	if err != nil {
		return h.volumeFailure(req, err), nil
	}

	if target != nil && (*target < info.Min || *target > info.Max) {
		return failure(400, "bad_request",
			fmt.Sprintf("volume must be between %d and %d for stream %d", info.Min, info.Max, stream)), nil
	}

	if target != nil {
		if err := h.deps.Audio.SetStreamVolume(ctx, stream, *target); err != nil {
			return h.volumeFailure(req, err), nil
		}
		info, err = h.deps.Audio.StreamVolume(ctx, stream)
		if err != nil {
			return h.volumeFailure(req, err), nil
		}
	}

	return Body{
		"ok":            true,
		"setRequested":  target != nil,
		"stream":        stream,
		"targetVolume":  intOrNil(target),
		"currentVolume": info.Current,
		"rangeMin":      info.Min,
		"rangeMax":      info.Max,
	}, nil
}

func (h *Handlers) volumeFailure(req *Request, err error) Body {
	switch {
	case errors.Is(err, domain.ErrInvalidStream):
		return failure(400, "bad_request", "Invalid stream type")
	case errors.Is(err, domain.ErrForbidden):
		return failure(403, "forbidden", "Volume control refused by the audio service")
	default:
		h.logger.Warn("volume control failed", zap.String("request_id", req.ID), zap.Error(err))
		return failure(500, "volume_failed", errorMessage(err))
	}
}

func (h *Handlers) RequestPermission(ctx context.Context, req *Request) (Body, error) {
	if denied := h.guard(req.Path); denied != nil {
		return denied, nil
	}
	m := h.deps.Manager
	requested := m.RequestPrivilegedPermission(PermissionRequestCode)
	has := m.HasPermission()

	body := Body{
		"ok":            requested || has,
		"requested":     requested,
		"hasPermission": has,
	}
	h.putBackendStatus(body)
	delete(body, "isPrivilegedAvailable")
	return body, nil
}

func (h *Handlers) LockScreen(ctx context.Context, req *Request) (Body, error) {
	if denied := h.guard(req.Path); denied != nil {
		return denied, nil
	}
	used := lockKeyEvent
	output := h.executePrivileged(ctx, used)
	if strings.HasPrefix(output, "Error") {
		used = lockKeyEventFallback
		output = h.executePrivileged(ctx, used)
	}
	return Body{
		"ok":      isSuccessfulOutput(output),
		"command": used,
		"output":  output,
	}, nil
}

func (h *Handlers) RotateToken(ctx context.Context, req *Request) (Body, error) {
	if _, err := h.deps.Auth.Rotate(); err != nil {
		h.logger.Error("failed to rotate token", zap.String("request_id", req.ID), zap.Error(err))
		return failure(500, "rotate_failed", "Failed to persist rotated token: "+err.Error()), nil
	}
	h.logger.Info("token rotated", zap.String("request_id", req.ID))
	return Body{"ok": true, "rotated": true}, nil
}

// --- helpers ---

// guard applies the master and per-endpoint policy flags for path.
// Policy is read fresh on every call.
func (h *Handlers) guard(path string) Body {
	p, err := h.deps.Policies.Load()
	if err != nil {
		h.logger.Error("failed to load privileged policy", zap.Error(err))
		return failure(500, "unavailable", "Privileged policy unavailable")
	}
	if !p.MasterEnabled {
		body := failure(403, "forbidden", "Privileged features disabled by settings")
		body["endpoint"] = path
		return body
	}
	spec, ok := h.registry.ForPath(path)
	if ok && !p.IsEndpointEnabled(spec.Endpoint) {
		body := failure(403, "forbidden", "Endpoint disabled by privileged policy")
		body["endpoint"] = path
		return body
	}
	return nil
}

// executePrivileged runs command and folds failures into "Error: ..." text.
func (h *Handlers) executePrivileged(ctx context.Context, command string) string {
	execCtx, cancel := context.WithTimeout(ctx, h.deps.ExecTimeout)
	defer cancel()

	out, err := h.deps.Manager.ExecuteCommand(execCtx, command)
	if err != nil {
		var be *domain.BackendError
		if errors.As(err, &be) {
			return be.Error()
		}
		return "Error: " + err.Error()
	}
	return out
}

func (h *Handlers) putBackendStatus(body Body) {
	m := h.deps.Manager
	st := m.Status()
	body["backendType"] = string(m.BackendType())
	body["backendState"] = string(st.State)
	body["statusReason"] = string(st.Reason)
	body["statusMessage"] = st.Message
	body["isPrivilegedAvailable"] = m.IsPrivilegedAvailable()
}

func (h *Handlers) putPolicies(body Body) {
	execPolicy, err := h.deps.ExecPolicies.Load()
	if err != nil {
		h.logger.Warn("failed to parse exec policy, using defaults", zap.Error(err))
	}
	body["execPolicy"] = policy.DescribeExec(execPolicy)

	p, err := h.deps.Policies.Load()
	if err != nil {
		h.logger.Warn("failed to load privileged policy", zap.Error(err))
		body["privilegedPolicy"] = policy.DescribeUnavailable()
		return
	}
	body["privilegedPolicy"] = policy.Describe(p)
}

func (h *Handlers) listenerConnected() bool {
	return h.deps.Notifications != nil && h.deps.Notifications.IsListenerConnected()
}

// isSuccessfulOutput classifies command output the way clients expect:
// empty is success, an "Error" prefix or known failure phrases are not.
func isSuccessfulOutput(output string) bool {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "error") {
		return false
	}
	if strings.Contains(lower, "permission required") || strings.Contains(lower, "no privileged backend") {
		return false
	}
	return true
}

// parseJSONBody decodes an optional JSON object body.
func parseJSONBody(data []byte) (map[string]any, Body) {
	fields := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return fields, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, failure(400, "bad_request", "Invalid JSON body")
	}
	return fields, nil
}

func optString(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// optionalInt returns the first present, non-null key as an int.
// Numbers are truncated; numeric strings are parsed; anything else is nil.
func optionalInt(fields map[string]any, keys ...string) *int {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		var text string
		switch t := v.(type) {
		case json.Number:
			if n, err := t.Int64(); err == nil {
				i := int(n)
				return &i
			}
			f, err := t.Float64()
			if err != nil {
				return nil
			}
			i := int(f)
			return &i
		case string:
			text = strings.TrimSpace(t)
		default:
			text = fmt.Sprint(t)
		}
		n, err := strconv.Atoi(text)
		if err != nil {
			return nil
		}
		return &n
	}
	return nil
}

var firstIntPattern = regexp.MustCompile(`-?\d+`)

func parseFirstInt(text string) *int {
	match := firstIntPattern.FindString(text)
	if match == "" {
		return nil
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &n
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func errorMessage(err error) string {
	var be *domain.BackendError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}

// toBody converts a report struct into a mutable JSON object.
func toBody(v any) (Body, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	body := Body{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return body, nil
}
