package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
)

// Snapshot file names inside the snapshot directory.
const (
	ListenerFile      = "listener.json"
	NowPlayingFile    = "now_playing.json"
	ArtFile           = "art.json"
	NotificationsFile = "notifications.json"
)

var feedFiles = []string{ListenerFile, NowPlayingFile, ArtFile, NotificationsFile}

// FileFeed loads snapshots that an external listener writes as JSON files.
// A missing file means "nothing reported".
type FileFeed struct {
	dir    string
	logger *zap.Logger

	signature string
}

// NewFileFeed creates a feed over dir.
func NewFileFeed(dir string, logger *zap.Logger) *FileFeed {
	return &FileFeed{dir: dir, logger: logger}
}

// Dir returns the snapshot directory.
func (f *FileFeed) Dir() string {
	return f.dir
}

// Load reads every snapshot file.
func (f *FileFeed) Load() (Snapshot, error) {
	var snap Snapshot

	var listener struct {
		Connected bool `json:"connected"`
	}
	if err := f.read(ListenerFile, &listener); err != nil {
		return Snapshot{}, err
	}
	snap.ListenerConnected = listener.Connected

	if err := f.read(NowPlayingFile, &snap.NowPlaying); err != nil {
		return Snapshot{}, err
	}
	if err := f.read(ArtFile, &snap.Art); err != nil {
		return Snapshot{}, err
	}

	notifications, err := f.readNotifications()
	if err != nil {
		return Snapshot{}, err
	}
	snap.Notifications = notifications
	return snap, nil
}

// Refresh reloads into store when any file changed since the last
// successful refresh. It reports whether the store was updated. On error
// the store keeps its previous snapshot.
func (f *FileFeed) Refresh(store *Store) (bool, error) {
	sig := f.stat()
	if sig == f.signature {
		return false, nil
	}

	snap, err := f.Load()
	if err != nil {
		return false, err
	}
	store.Replace(snap)
	f.signature = sig

	f.logger.Debug("notification snapshot refreshed",
		zap.Bool("listener_connected", snap.ListenerConnected),
		zap.Int("notifications", len(snap.Notifications)))
	return true, nil
}

// stat fingerprints the files by size and mtime.
func (f *FileFeed) stat() string {
	var b strings.Builder
	for _, name := range feedFiles {
		info, err := os.Stat(filepath.Join(f.dir, name))
		if err != nil {
			fmt.Fprintf(&b, "%s:-;", name)
			continue
		}
		fmt.Fprintf(&b, "%s:%d:%d;", name, info.Size(), info.ModTime().UnixNano())
	}
	return b.String()
}

// readNotifications accepts a bare array or {"notifications": [...]}.
func (f *FileFeed) readNotifications() ([]map[string]any, error) {
	var raw json.RawMessage
	if err := f.read(NotificationsFile, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Notifications []map[string]any `json:"notifications"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", NotificationsFile, err)
	}
	return wrapped.Notifications, nil
}

func (f *FileFeed) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}
