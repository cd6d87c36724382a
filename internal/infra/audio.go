package infra

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// Android audio stream types run from STREAM_VOICE_CALL (0) to
// STREAM_ACCESSIBILITY (10).
const (
	minStreamType = 0
	maxStreamType = 10
)

var volumeLinePattern = regexp.MustCompile(`volume is (-?\d+) in range \[(-?\d+)\.\.(-?\d+)\]`)

// CommandAudioController implements domain.AudioController through
// `cmd media_session volume`, which needs the shell identity.
type CommandAudioController struct {
	exec commandExecutor
}

// NewCommandAudioController creates a controller over a privileged executor.
func NewCommandAudioController(exec commandExecutor) *CommandAudioController {
	return &CommandAudioController{exec: exec}
}

func (a *CommandAudioController) StreamVolume(ctx context.Context, stream int) (domain.VolumeInfo, error) {
	if stream < minStreamType || stream > maxStreamType {
		return domain.VolumeInfo{}, domain.ErrInvalidStream
	}
	out, err := a.exec.ExecuteCommand(ctx, fmt.Sprintf("cmd media_session volume --stream %d --get", stream))
	if err != nil {
		return domain.VolumeInfo{}, classifyAudioError(err.Error(), err)
	}
	if cerr := classifyAudioError(out, nil); cerr != nil {
		return domain.VolumeInfo{}, cerr
	}
	return ParseVolumeOutput(stream, out)
}

func (a *CommandAudioController) SetStreamVolume(ctx context.Context, stream, volume int) error {
	if stream < minStreamType || stream > maxStreamType {
		return domain.ErrInvalidStream
	}
	out, err := a.exec.ExecuteCommand(ctx, fmt.Sprintf("cmd media_session volume --stream %d --set %d", stream, volume))
	if err != nil {
		return classifyAudioError(err.Error(), err)
	}
	return classifyAudioError(out, nil)
}

// classifyAudioError maps tool output to domain errors. Returns fallback
// (possibly nil) when nothing matches.
func classifyAudioError(text string, fallback error) error {
	switch {
	case strings.Contains(text, "SecurityException"):
		return fmt.Errorf("%w: %s", domain.ErrForbidden, firstLine(text))
	case strings.Contains(text, "IllegalArgumentException"), strings.Contains(text, "Bad stream"):
		return fmt.Errorf("%w: %s", domain.ErrInvalidStream, firstLine(text))
	}
	return fallback
}

// ParseVolumeOutput reads "volume is N in range [A..B]".
func ParseVolumeOutput(stream int, out string) (domain.VolumeInfo, error) {
	m := volumeLinePattern.FindStringSubmatch(out)
	if m == nil {
		return domain.VolumeInfo{}, fmt.Errorf("unexpected volume output: %q", firstLine(out))
	}
	cur, _ := strconv.Atoi(m[1])
	lo, _ := strconv.Atoi(m[2])
	hi, _ := strconv.Atoi(m[3])
	return domain.VolumeInfo{Stream: stream, Current: cur, Min: lo, Max: hi}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Ensure CommandAudioController implements domain.AudioController.
var _ domain.AudioController = (*CommandAudioController)(nil)
