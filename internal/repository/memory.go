package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/session"
)

// Memory is a process-local store with the same semantics as Client. It backs
// local runs where no table is configured.
type Memory struct {
	mu        sync.Mutex
	sessions  map[string][]byte
	snapshots map[string][]session.Snapshot
	maxSnaps  int
}

func NewMemory() *Memory {
	return &Memory{
		sessions:  map[string][]byte{},
		snapshots: map[string][]session.Snapshot{},
		maxSnaps:  maxSnapshotsIn,
	}
}

func (m *Memory) Load(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	data, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrNoSession, sessionID)
	}
	return session.Decode(data)
}

func (m *Memory) Save(_ context.Context, s *domain.Session) error {
	if s == nil || s.ID == "" {
		return errors.New("repository: Save: session id is required")
	}
	data, err := session.Export(s)
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	m.mu.Lock()
	m.sessions[s.ID] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) WriteSnapshot(_ context.Context, sessionID string, takenAt time.Time, data []byte) error {
	if sessionID == "" {
		return errors.New("repository: WriteSnapshot: session id is required")
	}
	snap := session.Snapshot{TakenAt: takenAt.UTC(), Data: append([]byte(nil), data...)}
	if s, err := session.Decode(data); err == nil {
		snap.Stage = s.CurrentStage
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := append(m.snapshots[sessionID], snap)
	if len(snaps) > m.maxSnaps {
		snaps = snaps[len(snaps)-m.maxSnaps:]
	}
	m.snapshots[sessionID] = snaps
	return nil
}

func (m *Memory) ListSnapshots(_ context.Context, sessionID string, limit int) ([]session.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := m.snapshots[sessionID]
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[len(snaps)-limit:]
	}
	return append([]session.Snapshot(nil), snaps...), nil
}
