package domain

import (
	"sort"
	"time"
)

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Input type tags understood by the flow.
const (
	InputCompanyName       = "company_name"
	InputInvestmentAmount  = "investment_amount"
	InputDecisionContext   = "decision_context"
	InputFinalDecision     = "final_decision"
	InputDecisionRationale = "decision_rationale"
	InputUserReflection    = "user_reflection"
	InputSystemName        = "system_name"
	InputCorePrinciple     = "core_principle"
)

// ProviderFallback is the provider identifier recorded for synthesized turns.
const ProviderFallback = "fallback"

// DefaultTotalStages is the stage count used when a case does not define acts.
const DefaultTotalStages = 4

type UserInput struct {
	Type              string         `json:"type"`
	Content           string         `json:"content"`
	Valid             bool           `json:"valid"`
	ValidationMessage string         `json:"validation_message,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

type ConversationTurn struct {
	Role       Role           `json:"role"`
	Message    string         `json:"message"`
	Stage      int            `json:"stage"`
	Input      *UserInput     `json:"input,omitempty"`
	Latency    time.Duration  `json:"latency"`
	Provider   string         `json:"provider"`
	TokenCount int            `json:"token_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type MagicMoment struct {
	Name         string         `json:"name"`
	TriggerStage int            `json:"trigger_stage"`
	Description  string         `json:"description"`
	Triggered    bool           `json:"triggered"`
	TriggeredAt  *time.Time     `json:"triggered_at,omitempty"`
	Effect       map[string]any `json:"effect,omitempty"`
}

type GeneratedTool struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Content      map[string]any `json:"content"`
	Personalized bool           `json:"personalized"`
	CreatedAt    time.Time      `json:"created_at"`
	UsageCount   int            `json:"usage_count"`
}

// PerformanceMetrics aggregates timing and call counts for a session.
// Completion rate and total duration are derived on demand.
type PerformanceMetrics struct {
	StartedAt      time.Time             `json:"started_at"`
	EndedAt        *time.Time            `json:"ended_at,omitempty"`
	StageEnteredAt time.Time             `json:"stage_entered_at"`
	StageDurations map[int]time.Duration `json:"stage_durations"`
	CallCount      int                   `json:"call_count"`
	TokenTotal     int                   `json:"token_total"`
}

// TotalDuration is EndedAt-StartedAt, or now-StartedAt while the session is open.
func (m PerformanceMetrics) TotalDuration(now time.Time) time.Duration {
	if m.StartedAt.IsZero() {
		return 0
	}
	end := now
	if m.EndedAt != nil {
		end = *m.EndedAt
	}
	if end.Before(m.StartedAt) {
		return 0
	}
	return end.Sub(m.StartedAt)
}

// Session is the single source of truth for one user's progress through a case.
type Session struct {
	ID                    string               `json:"id"`
	UserID                string               `json:"user_id"`
	CaseID                string               `json:"case_id"`
	CurrentStage          int                  `json:"current_stage"`
	CurrentRole           Role                 `json:"current_role"`
	TotalStages           int                  `json:"total_stages"`
	StageRoles            StageRoleTable       `json:"stage_roles"`
	Status                Status               `json:"status"`
	PersonalizationActive bool                 `json:"personalization_active"`
	FallbackActive        bool                 `json:"fallback_active"`
	Turns                 []ConversationTurn   `json:"turns"`
	Inputs                map[string]UserInput `json:"inputs"`
	MagicMoments          []MagicMoment        `json:"magic_moments"`
	Tools                 []GeneratedTool      `json:"tools"`
	Metrics               PerformanceMetrics   `json:"metrics"`
	Errors                []ErrorRecord        `json:"errors"`
	CreatedAt             time.Time            `json:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

// CompletionRate is 100 for a completed session, otherwise the share of
// stages already left behind.
func (s *Session) CompletionRate() float64 {
	if s.Status == StatusCompleted {
		return 100
	}
	if s.TotalStages <= 0 {
		return 0
	}
	return float64(s.CurrentStage-1) / float64(s.TotalStages) * 100
}

// Input returns the stored input of the given type.
func (s *Session) Input(inputType string) (UserInput, bool) {
	in, ok := s.Inputs[inputType]
	return in, ok
}

// Decisions flattens valid user inputs into type->content pairs.
func (s *Session) Decisions() map[string]string {
	out := make(map[string]string, len(s.Inputs))
	for k, in := range s.Inputs {
		if in.Valid {
			out[k] = in.Content
		}
	}
	return out
}

// PersonalizationValues returns the active personalization key/value pairs in key order.
func (s *Session) PersonalizationValues() [][2]string {
	if !s.PersonalizationActive {
		return nil
	}
	keys := make([]string, 0, len(s.Inputs))
	for k, in := range s.Inputs {
		if in.Valid && in.Content != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, s.Inputs[k].Content})
	}
	return out
}

// RecentTurns returns up to n of the latest turns, oldest first.
func (s *Session) RecentTurns(n int) []ConversationTurn {
	if n <= 0 || len(s.Turns) == 0 {
		return nil
	}
	if len(s.Turns) <= n {
		return append([]ConversationTurn(nil), s.Turns...)
	}
	return append([]ConversationTurn(nil), s.Turns[len(s.Turns)-n:]...)
}

// MagicMoment returns the index of the named moment, or -1.
func (s *Session) MagicMoment(name string) int {
	for i, m := range s.MagicMoments {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// Tool returns the index of the named tool, or -1.
func (s *Session) Tool(name string) int {
	for i, t := range s.Tools {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// AppendError adds a summarized error, dropping the oldest beyond max.
func (s *Session) AppendError(rec ErrorRecord, max int) {
	s.Errors = append(s.Errors, rec)
	if max > 0 && len(s.Errors) > max {
		s.Errors = append([]ErrorRecord(nil), s.Errors[len(s.Errors)-max:]...)
	}
}

// Repair restores missing or corrupt fields to safe defaults and reports the
// fields it touched. It never changes a valid session.
func (s *Session) Repair(now time.Time) []string {
	var fixed []string
	if len(s.StageRoles) == 0 {
		s.StageRoles = append(StageRoleTable(nil), DefaultStageRoles...)
		fixed = append(fixed, "stage_roles")
	}
	if s.TotalStages != len(s.StageRoles) {
		s.TotalStages = len(s.StageRoles)
		fixed = append(fixed, "total_stages")
	}
	switch {
	case s.CurrentStage < 1:
		s.CurrentStage = 1
		fixed = append(fixed, "current_stage")
	case s.CurrentStage > s.TotalStages:
		s.CurrentStage = s.TotalStages
		fixed = append(fixed, "current_stage")
	}
	if r, _ := s.StageRoles.RoleFor(s.CurrentStage); s.CurrentRole != r {
		s.CurrentRole = r
		fixed = append(fixed, "current_role")
	}
	switch s.Status {
	case StatusInProgress, StatusCompleted:
	default:
		s.Status = StatusInProgress
		fixed = append(fixed, "status")
	}
	if s.Inputs == nil {
		s.Inputs = map[string]UserInput{}
		fixed = append(fixed, "inputs")
	}
	if s.Metrics.StageDurations == nil {
		s.Metrics.StageDurations = map[int]time.Duration{}
		fixed = append(fixed, "metrics.stage_durations")
	}
	if s.Metrics.StartedAt.IsZero() {
		s.Metrics.StartedAt = now
		fixed = append(fixed, "metrics.started_at")
	}
	if s.Metrics.StageEnteredAt.IsZero() {
		s.Metrics.StageEnteredAt = now
		fixed = append(fixed, "metrics.stage_entered_at")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
		fixed = append(fixed, "created_at")
	}
	if len(fixed) > 0 {
		s.UpdatedAt = now
	}
	return fixed
}
