package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cognitive-blackbox/internal/domain"
)

// Snapshot is one serialized backup of a session.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`
	Stage   int       `json:"stage"`
	Data    []byte    `json:"data"`
}

// ring keeps the newest snapshots, dropping the oldest once full.
type ring struct {
	items []Snapshot
	max   int
}

func (r *ring) push(s Snapshot) {
	r.items = append(r.items, s)
	if len(r.items) > r.max {
		r.items = append([]Snapshot(nil), r.items[len(r.items)-r.max:]...)
	}
}

// Export returns the structural dump of s used for diagnostics. The format
// is not stable across versions.
func Export(s *domain.Session) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("session: Export: %w", err)
	}
	return b, nil
}

// Decode rebuilds a session from an Export dump.
func Decode(data []byte) (*domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrCorruptSession)
	}
	return &s, nil
}

// Backups returns the retained snapshots for a session, oldest first.
func (m *Manager) Backups(sessionID string) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.backups.Get(sessionID)
	if !ok {
		return nil
	}
	return append([]Snapshot(nil), r.items...)
}

// Restore decodes the newest backup of a session.
func (m *Manager) Restore(sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	r, ok := m.backups.Get(sessionID)
	var latest Snapshot
	if ok && len(r.items) > 0 {
		latest = r.items[len(r.items)-1]
	}
	m.mu.Unlock()
	if latest.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoBackup, sessionID)
	}
	return Decode(latest.Data)
}

// backup is best-effort: failures are logged and never returned.
func (m *Manager) backup(ctx context.Context, s *domain.Session) {
	data, err := Export(s)
	if err != nil {
		m.logger.WarnContext(ctx, "session backup failed", "session_id", s.ID, "err", err)
		return
	}
	snap := Snapshot{TakenAt: m.now().UTC(), Stage: s.CurrentStage, Data: data}

	m.mu.Lock()
	r, ok := m.backups.Get(s.ID)
	if !ok {
		r = &ring{max: m.maxBackups}
		m.backups.Add(s.ID, r)
	}
	r.push(snap)
	m.mu.Unlock()

	if m.snapshots == nil {
		return
	}
	if err := m.snapshots.WriteSnapshot(ctx, s.ID, snap.TakenAt, data); err != nil {
		m.logger.WarnContext(ctx, "session snapshot write failed", "session_id", s.ID, "err", err)
	}
}
