// Package session implements the stage state machine that owns a user's
// progress through a case.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/validate"
)

const (
	DefaultMaxBackups = 5

	// backupSessions bounds how many sessions keep backup rings in one process.
	backupSessions = 1024
	backupTTL      = 24 * time.Hour

	directionAdvance = "advance"
	directionRetreat = "retreat"
	directionReset   = "reset"
)

var (
	ErrAtFinalStage      = errors.New("session: already at the final stage")
	ErrAtFirstStage      = errors.New("session: already at the first stage")
	ErrNotAtFinalStage   = errors.New("session: finish is only allowed at the final stage")
	ErrMomentUnavailable = errors.New("session: magic moment unavailable")
	ErrToolNotFound      = errors.New("session: tool not found")
	ErrNoSession         = errors.New("session: not found")
	ErrNoBackup          = errors.New("session: no backup available")
	ErrCorruptSession    = errors.New("session: corrupt session state")
)

// CaseSource supplies validated case definitions.
type CaseSource interface {
	Case(id string) (domain.CaseDefinition, error)
}

// Moderator flags unsafe user input.
type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

type TokenCounter interface {
	Count(text string) int
}

type Recorder interface {
	StageTransition(direction string)
}

// SnapshotWriter persists backup snapshots outside the process.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, sessionID string, takenAt time.Time, data []byte) error
}

// TurnInput describes a generated turn to append.
type TurnInput struct {
	Role     domain.Role
	Message  string
	Input    *domain.UserInput
	Latency  time.Duration
	Provider string
	Metadata map[string]any
}

// Summary is a read-only progress view of a session.
type Summary struct {
	SessionID        string        `json:"session_id"`
	CaseID           string        `json:"case_id"`
	Stage            int           `json:"stage"`
	TotalStages      int           `json:"total_stages"`
	Role             domain.Role   `json:"role"`
	Status           domain.Status `json:"status"`
	Progress         string        `json:"progress"`
	CompletionRate   float64       `json:"completion_rate"`
	TotalDuration    time.Duration `json:"total_duration"`
	Turns            int           `json:"turns"`
	Inputs           int           `json:"inputs"`
	Tools            int           `json:"tools"`
	Errors           int           `json:"errors"`
	MomentsTriggered int           `json:"moments_triggered"`
	CallCount        int           `json:"call_count"`
	TokenTotal       int           `json:"token_total"`
}

// Manager drives sessions through their stages. Sessions are passed in
// explicitly and are never shared between callers; the Manager itself only
// keeps the per-session backup rings.
type Manager struct {
	cases      CaseSource
	logger     *slog.Logger
	now        func() time.Time
	moderator  Moderator
	tokens     TokenCounter
	recorder   Recorder
	snapshots  SnapshotWriter
	maxBackups int

	mu      sync.Mutex
	backups *expirable.LRU[string, *ring]
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithModerator(mod Moderator) Option {
	return func(m *Manager) {
		m.moderator = mod
	}
}

func WithTokenCounter(tc TokenCounter) Option {
	return func(m *Manager) {
		m.tokens = tc
	}
}

func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

func WithSnapshotWriter(w SnapshotWriter) Option {
	return func(m *Manager) {
		m.snapshots = w
	}
}

func WithMaxBackups(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxBackups = n
		}
	}
}

func NewManager(cases CaseSource, opts ...Option) (*Manager, error) {
	if cases == nil {
		return nil, errors.New("session: case source must not be nil")
	}
	m := &Manager{
		cases:      cases,
		logger:     slog.Default(),
		now:        time.Now,
		maxBackups: DefaultMaxBackups,
		backups:    expirable.NewLRU[string, *ring](backupSessions, nil, backupTTL),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start creates a session at stage 1 for caseID. An empty userID gets a fresh one.
func (m *Manager) Start(ctx context.Context, caseID, userID string) (*domain.Session, error) {
	def, err := m.cases.Case(strings.TrimSpace(caseID))
	if err != nil {
		return nil, fmt.Errorf("session: Start: %w", err)
	}
	s := m.newSession(def, newUUID(), userID)
	m.backup(ctx, s)
	return s, nil
}

func (m *Manager) newSession(def domain.CaseDefinition, id, userID string) *domain.Session {
	now := m.now().UTC()
	if strings.TrimSpace(userID) == "" {
		userID = newUUID()
	}
	table := def.StageRoles()
	role, _ := table.RoleFor(1)

	s := &domain.Session{
		ID:           id,
		UserID:       userID,
		CaseID:       def.Metadata.CaseID,
		CurrentStage: 1,
		CurrentRole:  role,
		TotalStages:  table.Stages(),
		StageRoles:   table,
		Status:       domain.StatusInProgress,
		Inputs:       map[string]domain.UserInput{},
		Metrics: domain.PerformanceMetrics{
			StartedAt:      now,
			StageEnteredAt: now,
			StageDurations: map[int]time.Duration{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, md := range def.MagicMoments {
		s.MagicMoments = append(s.MagicMoments, domain.MagicMoment{
			Name:         md.Name,
			TriggerStage: md.TriggerStage,
			Description:  md.Description,
			Effect:       md.Effect,
		})
	}
	for typ, content := range def.DefaultInputs {
		s.Inputs[typ] = domain.UserInput{
			Type:      typ,
			Content:   content,
			Valid:     true,
			Metadata:  map[string]any{"source": "default"},
			Timestamp: now,
		}
	}
	return s
}

// Advance moves to the next stage and returns the role transition message.
// At the final stage it reports ErrAtFinalStage and leaves s unchanged.
func (m *Manager) Advance(ctx context.Context, s *domain.Session) (string, error) {
	if s.CurrentStage >= s.TotalStages {
		return "", ErrAtFinalStage
	}
	now := m.now().UTC()
	m.closeStage(s, now)
	s.CurrentStage++
	m.enterStage(s, now)
	m.transition(directionAdvance)
	m.backup(ctx, s)
	return TransitionMessage(s.CurrentRole), nil
}

// Retreat moves back one stage. At stage 1 it reports ErrAtFirstStage and
// leaves s unchanged. Recorded turns keep their original stage and role.
func (m *Manager) Retreat(ctx context.Context, s *domain.Session) error {
	if s.CurrentStage <= 1 {
		return ErrAtFirstStage
	}
	now := m.now().UTC()
	m.closeStage(s, now)
	s.CurrentStage--
	m.enterStage(s, now)
	m.transition(directionRetreat)
	m.backup(ctx, s)
	return nil
}

// Reset discards s and returns a fresh session for the same case and user.
// The session id is kept so callers can keep addressing it.
func (m *Manager) Reset(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	def, err := m.cases.Case(s.CaseID)
	if err != nil {
		return nil, fmt.Errorf("session: Reset: %w", err)
	}
	m.mu.Lock()
	m.backups.Remove(s.ID)
	m.mu.Unlock()

	fresh := m.newSession(def, s.ID, s.UserID)
	m.transition(directionReset)
	m.backup(ctx, fresh)
	return fresh, nil
}

// Finish completes the session. It is only allowed at the final stage.
func (m *Manager) Finish(ctx context.Context, s *domain.Session) error {
	if s.Status == domain.StatusCompleted {
		return nil
	}
	if s.CurrentStage != s.TotalStages {
		return ErrNotAtFinalStage
	}
	now := m.now().UTC()
	m.closeStage(s, now)
	s.Status = domain.StatusCompleted
	s.Metrics.EndedAt = &now
	s.UpdatedAt = now
	m.backup(ctx, s)
	return nil
}

// RecordTurn appends a turn tagged with the current stage.
func (m *Manager) RecordTurn(ctx context.Context, s *domain.Session, in TurnInput) domain.ConversationTurn {
	provider := in.Provider
	if provider == "" {
		provider = domain.ProviderFallback
	}
	turn := domain.ConversationTurn{
		Role:       in.Role,
		Message:    in.Message,
		Stage:      s.CurrentStage,
		Input:      in.Input,
		Latency:    in.Latency,
		Provider:   provider,
		TokenCount: m.countTokens(in.Message),
		Metadata:   in.Metadata,
		Timestamp:  m.now().UTC(),
	}
	s.Turns = append(s.Turns, turn)
	s.Metrics.CallCount++
	s.Metrics.TokenTotal += turn.TokenCount
	s.UpdatedAt = turn.Timestamp
	m.backup(ctx, s)
	return turn
}

// SubmitInput validates content and stores it under inputType, replacing any
// earlier input of that type. Personalization switches on once a
// personalization key is submitted.
func (m *Manager) SubmitInput(ctx context.Context, s *domain.Session, inputType, content string, metadata map[string]any) (domain.UserInput, error) {
	inputType = strings.TrimSpace(inputType)
	in := domain.UserInput{
		Type:      inputType,
		Content:   strings.TrimSpace(content),
		Metadata:  metadata,
		Timestamp: m.now().UTC(),
	}
	if err := validate.Input(inputType, content); err != nil {
		var fe *validate.FieldError
		if errors.As(err, &fe) {
			in.ValidationMessage = fe.Message
		}
		return in, err
	}
	if m.moderator != nil {
		flagged, err := m.moderator.Moderate(ctx, in.Content)
		switch {
		case err != nil:
			m.logger.WarnContext(ctx, "moderation unavailable, accepting input", "session_id", s.ID, "type", inputType, "err", err)
		case flagged:
			fe := &validate.FieldError{Field: inputType, Message: "input was flagged by moderation", Kind: domain.ErrorTypeValidation}
			in.ValidationMessage = fe.Message
			return in, fe
		}
	}

	in.Valid = true
	if s.Inputs == nil {
		s.Inputs = map[string]domain.UserInput{}
	}
	s.Inputs[inputType] = in
	if isPersonalizationKey(inputType) {
		s.PersonalizationActive = true
	}
	s.UpdatedAt = in.Timestamp
	m.backup(ctx, s)
	return in, nil
}

// TriggerMagicMoment fires a moment once, and only at its trigger stage.
func (m *Manager) TriggerMagicMoment(ctx context.Context, s *domain.Session, name string) (domain.MagicMoment, error) {
	i := s.MagicMoment(name)
	if i < 0 {
		return domain.MagicMoment{}, fmt.Errorf("%w: %q is not defined", ErrMomentUnavailable, name)
	}
	mm := s.MagicMoments[i]
	if mm.Triggered {
		return mm, fmt.Errorf("%w: %q already triggered", ErrMomentUnavailable, name)
	}
	if mm.TriggerStage != s.CurrentStage {
		return mm, fmt.Errorf("%w: %q triggers at stage %d", ErrMomentUnavailable, name, mm.TriggerStage)
	}
	now := m.now().UTC()
	mm.Triggered = true
	mm.TriggeredAt = &now
	s.MagicMoments[i] = mm
	s.UpdatedAt = now
	m.backup(ctx, s)
	return mm, nil
}

// AddTool records a generated tool. A tool is created once per name; later
// attempts return the existing tool and false.
func (m *Manager) AddTool(ctx context.Context, s *domain.Session, tool domain.GeneratedTool) (domain.GeneratedTool, bool) {
	if i := s.Tool(tool.Name); i >= 0 {
		return s.Tools[i], false
	}
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = m.now().UTC()
	}
	tool.UsageCount = 0
	s.Tools = append(s.Tools, tool)
	s.UpdatedAt = tool.CreatedAt
	m.backup(ctx, s)
	return tool, true
}

// UseTool increments the usage counter of a tool.
func (m *Manager) UseTool(ctx context.Context, s *domain.Session, name string) (domain.GeneratedTool, error) {
	i := s.Tool(name)
	if i < 0 {
		return domain.GeneratedTool{}, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	s.Tools[i].UsageCount++
	s.UpdatedAt = m.now().UTC()
	m.backup(ctx, s)
	return s.Tools[i], nil
}

// Repair restores missing or corrupt fields and reports what it fixed.
func (m *Manager) Repair(ctx context.Context, s *domain.Session) []string {
	fixed := s.Repair(m.now().UTC())
	if len(fixed) > 0 {
		m.logger.InfoContext(ctx, "session repaired", "session_id", s.ID, "fixed", fixed)
		m.backup(ctx, s)
	}
	return fixed
}

func (m *Manager) Summary(s *domain.Session) Summary {
	moments := 0
	for _, mm := range s.MagicMoments {
		if mm.Triggered {
			moments++
		}
	}
	return Summary{
		SessionID:        s.ID,
		CaseID:           s.CaseID,
		Stage:            s.CurrentStage,
		TotalStages:      s.TotalStages,
		Role:             s.CurrentRole,
		Status:           s.Status,
		Progress:         fmt.Sprintf("%d/%d", s.CurrentStage, s.TotalStages),
		CompletionRate:   s.CompletionRate(),
		TotalDuration:    s.Metrics.TotalDuration(m.now().UTC()),
		Turns:            len(s.Turns),
		Inputs:           len(s.Inputs),
		Tools:            len(s.Tools),
		Errors:           len(s.Errors),
		MomentsTriggered: moments,
		CallCount:        s.Metrics.CallCount,
		TokenTotal:       s.Metrics.TokenTotal,
	}
}

// TransitionMessage introduces the role taking over the next stage.
func TransitionMessage(r domain.Role) string {
	p := r.Profile()
	return fmt.Sprintf("Now let me invite the %s to %s.", p.Name, p.Description)
}

func (m *Manager) closeStage(s *domain.Session, now time.Time) {
	if s.Metrics.StageDurations == nil {
		s.Metrics.StageDurations = map[int]time.Duration{}
	}
	if !s.Metrics.StageEnteredAt.IsZero() && now.After(s.Metrics.StageEnteredAt) {
		s.Metrics.StageDurations[s.CurrentStage] += now.Sub(s.Metrics.StageEnteredAt)
	}
}

func (m *Manager) enterStage(s *domain.Session, now time.Time) {
	s.CurrentRole, _ = s.StageRoles.RoleFor(s.CurrentStage)
	s.Metrics.StageEnteredAt = now
	s.FallbackActive = false
	s.UpdatedAt = now
}

func (m *Manager) transition(direction string) {
	if m.recorder != nil {
		m.recorder.StageTransition(direction)
	}
}

func (m *Manager) countTokens(text string) int {
	if m.tokens == nil {
		return len(strings.Fields(text))
	}
	return m.tokens.Count(text)
}

func isPersonalizationKey(inputType string) bool {
	return inputType == domain.InputSystemName || inputType == domain.InputCorePrinciple
}

var newUUID = func() string {
	return uuid.NewString()
}
