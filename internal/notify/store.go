// Package notify holds the notification and media snapshots served by the
// gateway. An external listener writes them; the daemon feeds them in.
package notify

import (
	"encoding/base64"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/eliteGoblin/tooie/internal/domain"
)

// MaxArtBytes caps the decoded album art payload.
const MaxArtBytes = 512 * 1024

// DisconnectedHint is attached to every snapshot while no listener is connected.
const DisconnectedHint = "Start the notification listener so it writes snapshots to ~/.tooie/snapshots; notifications and media endpoints stay empty until then."

// Snapshot is everything the listener last reported. Stored snapshots are
// never mutated.
type Snapshot struct {
	ListenerConnected bool
	NowPlaying        map[string]any
	Art               map[string]any
	Notifications     []map[string]any
}

// Store serves the latest Snapshot to concurrent readers.
type Store struct {
	current atomic.Pointer[Snapshot]
	logger  *zap.Logger
}

var _ domain.NotificationSource = (*Store)(nil)

// NewStore creates an empty, disconnected store.
func NewStore(logger *zap.Logger) *Store {
	s := &Store{logger: logger}
	s.current.Store(&Snapshot{})
	return s
}

// Replace installs snap. Notifications are ordered newest first and art
// over MaxArtBytes is dropped.
func (s *Store) Replace(snap Snapshot) {
	notifications := make([]map[string]any, len(snap.Notifications))
	copy(notifications, snap.Notifications)
	sort.SliceStable(notifications, func(i, j int) bool {
		return postTime(notifications[i]) > postTime(notifications[j])
	})
	snap.Notifications = notifications

	if size := artSize(snap.Art); size > MaxArtBytes {
		s.logger.Warn("dropping oversized album art",
			zap.Int("size_bytes", size),
			zap.Int("max_bytes", MaxArtBytes))
		snap.Art = nil
	}

	s.current.Store(&snap)
}

// Current returns the stored snapshot.
func (s *Store) Current() Snapshot {
	return *s.current.Load()
}

func (s *Store) IsListenerConnected() bool {
	return s.current.Load().ListenerConnected
}

func (s *Store) NowPlayingSnapshot() map[string]any {
	snap := s.current.Load()
	data := s.base(snap)
	data["nowPlaying"] = objectOrNil(snap.NowPlaying)
	return data
}

func (s *Store) NowPlayingArtSnapshot() map[string]any {
	snap := s.current.Load()
	data := s.base(snap)
	data["art"] = objectOrNil(snap.Art)
	return data
}

func (s *Store) NotificationsSnapshot() map[string]any {
	snap := s.current.Load()
	data := s.base(snap)
	notifications := snap.Notifications
	if notifications == nil {
		notifications = []map[string]any{}
	}
	data["count"] = len(notifications)
	data["notifications"] = notifications
	return data
}

func (s *Store) base(snap *Snapshot) map[string]any {
	data := map[string]any{"listenerConnected": snap.ListenerConnected}
	if !snap.ListenerConnected {
		data["hint"] = DisconnectedHint
	}
	return data
}

func objectOrNil(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

// postTime reads a numeric postTime; missing or malformed sorts last.
func postTime(n map[string]any) float64 {
	switch v := n["postTime"].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// artSize is the decoded size of the base64 payload, or sizeBytes when
// the payload is missing.
func artSize(art map[string]any) int {
	if art == nil {
		return 0
	}
	if encoded, ok := art["base64"].(string); ok {
		return base64.StdEncoding.DecodedLen(len(encoded))
	}
	if size, ok := art["sizeBytes"].(float64); ok {
		return int(size)
	}
	return 0
}
