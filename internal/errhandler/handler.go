// Package errhandler classifies failures into the error taxonomy, applies the
// per-type recovery policy and keeps a bounded diagnostic history.
package errhandler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"cognitive-blackbox/internal/domain"
)

const (
	DefaultHistorySize  = 100
	DefaultSessionLimit = 20
	recentWindow        = 10
	maxValueExcerpt     = 100
)

const criticalUserMessage = "The system ran into a serious problem. Please refresh and try again."

var userMessages = map[domain.ErrorType]string{
	domain.ErrorTypeAPI:           "The AI service is temporarily unavailable. We are using a backup path for you.",
	domain.ErrorTypeValidation:    "The input format is incorrect. Please check it and try again.",
	domain.ErrorTypeSession:       "Something went wrong with your session. We are restoring your progress.",
	domain.ErrorTypeConfiguration: "The system configuration is invalid. Please contact the operator.",
	domain.ErrorTypeSystem:        "A temporary problem occurred and is being repaired automatically.",
	domain.ErrorTypeUserInput:     "Please check what you entered.",
	domain.ErrorTypeNetwork:       "The network connection is unstable. Please try again shortly.",
}

var suggestedActions = map[domain.ErrorType]string{
	domain.ErrorTypeAPI:           "use_fallback_response",
	domain.ErrorTypeValidation:    "correct_input",
	domain.ErrorTypeSession:       "recover_session",
	domain.ErrorTypeConfiguration: "reload_config",
	domain.ErrorTypeSystem:        "restart_component",
	domain.ErrorTypeNetwork:       "retry_connection",
}

// Notifier surfaces a user-visible error.
type Notifier interface {
	Notify(ctx context.Context, info domain.ErrorInfo)
}

// Recorder receives one observation per handled error.
type Recorder interface {
	Error(errType, severity string)
}

// Options tune a single Handle call.
type Options struct {
	Context     map[string]any
	Session     *domain.Session
	UserVisible bool
	AutoRecover bool
	Notifier    Notifier
}

// Stats summarizes everything handled since the last Clear.
type Stats struct {
	Total      int                      `json:"total_errors"`
	ByType     map[domain.ErrorType]int `json:"by_type"`
	BySeverity map[domain.Severity]int  `json:"by_severity"`
	Recent     []domain.ErrorInfo       `json:"recent"`
	Critical   int                      `json:"critical_errors"`
}

type Handler struct {
	logger       *slog.Logger
	recorder     Recorder
	now          func() time.Time
	sessionLimit int

	mu         sync.Mutex
	history    []domain.ErrorInfo
	capacity   int
	total      int
	byType     map[domain.ErrorType]int
	bySeverity map[domain.Severity]int
	critical   int
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(h *Handler) {
		h.recorder = r
	}
}

func WithHistorySize(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// WithSessionErrorLimit bounds the summarized error list kept on a session.
func WithSessionErrorLimit(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.sessionLimit = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func New(opts ...Option) *Handler {
	h := &Handler{
		logger:       slog.Default(),
		now:          time.Now,
		capacity:     DefaultHistorySize,
		sessionLimit: DefaultSessionLimit,
		byType:       map[domain.ErrorType]int{},
		bySeverity:   map[domain.Severity]int{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle classifies err under errType, records it and optionally notifies
// the user and runs the recovery strategy. It never panics and never fails.
func (h *Handler) Handle(ctx context.Context, err error, errType domain.ErrorType, opts Options) (info domain.ErrorInfo) {
	// Each call is recorded exactly once: either the classified record or,
	// when anything before the store panics, the critical fallback.
	stored := false
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("error handler failed", "panic", r, "err", err)
			info = h.fallbackInfo(err)
			if !stored {
				h.store(info)
			}
		}
	}()

	msg := errorMessage(err)
	severity := DetermineSeverity(errType, msg)
	info = domain.ErrorInfo{
		Type:            errType,
		Severity:        severity,
		Message:         msg,
		UserMessage:     UserMessage(errType, msg),
		Timestamp:       h.now().UTC(),
		Context:         copyContext(opts.Context),
		SuggestedAction: SuggestedAction(errType),
	}
	if severity.Rank() >= domain.SeverityHigh.Rank() {
		info.Trace = string(debug.Stack())
	}

	if opts.AutoRecover {
		info.Recovered = h.attemptRecovery(ctx, info, opts.Session)
	}
	h.log(ctx, info)
	if opts.Session != nil {
		opts.Session.AppendError(summarize(info, opts.Session), h.sessionLimit)
	}
	if opts.UserVisible && opts.Notifier != nil {
		opts.Notifier.Notify(ctx, info)
	}
	stored = true
	h.store(info)
	return info
}

// HandleTimeout records a provider timeout. The flow continues on the fallback
// path; when sess is given it stays there for the rest of the stage.
func (h *Handler) HandleTimeout(ctx context.Context, provider string, timeout time.Duration, sess *domain.Session) domain.ErrorInfo {
	info := domain.ErrorInfo{
		Type:            domain.ErrorTypeAPI,
		Severity:        domain.SeverityMedium,
		Message:         fmt.Sprintf("provider timeout for %s after %s", provider, timeout),
		UserMessage:     "The response is taking longer than usual, so we switched to a faster path.",
		Timestamp:       h.now().UTC(),
		Context:         map[string]any{"provider": provider, "timeout_seconds": timeout.Seconds()},
		SuggestedAction: "use_fallback_response",
	}
	if sess != nil {
		sess.FallbackActive = true
		info.Recovered = true
	}
	h.log(ctx, info)
	h.store(info)
	if sess != nil {
		sess.AppendError(summarize(info, sess), h.sessionLimit)
	}
	return info
}

// HandleValidation records a rejected field. The value is truncated before it is stored.
func (h *Handler) HandleValidation(ctx context.Context, field, value, message string) domain.ErrorInfo {
	if r := []rune(value); len(r) > maxValueExcerpt {
		value = string(r[:maxValueExcerpt])
	}
	info := domain.ErrorInfo{
		Type:            domain.ErrorTypeValidation,
		Severity:        domain.SeverityLow,
		Message:         fmt.Sprintf("validation failed for %s: %s", field, message),
		UserMessage:     fmt.Sprintf("Please check the format of %s: %s", field, message),
		Timestamp:       h.now().UTC(),
		Context:         map[string]any{"field": field, "value": value, "validation_error": message},
		SuggestedAction: "correct_input",
	}
	h.log(ctx, info)
	h.store(info)
	return info
}

func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{
		Total:      h.total,
		ByType:     make(map[domain.ErrorType]int, len(h.byType)),
		BySeverity: make(map[domain.Severity]int, len(h.bySeverity)),
		Critical:   h.critical,
	}
	for k, v := range h.byType {
		st.ByType[k] = v
	}
	for k, v := range h.bySeverity {
		st.BySeverity[k] = v
	}
	start := len(h.history) - recentWindow
	if start < 0 {
		start = 0
	}
	st.Recent = append([]domain.ErrorInfo(nil), h.history[start:]...)
	return st
}

// History returns a copy of the retained records, oldest first.
func (h *Handler) History() []domain.ErrorInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.ErrorInfo(nil), h.history...)
}

func (h *Handler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = nil
	h.total = 0
	h.critical = 0
	h.byType = map[domain.ErrorType]int{}
	h.bySeverity = map[domain.Severity]int{}
}

// DetermineSeverity applies the severity rules. A message mentioning
// "critical" is always CRITICAL.
func DetermineSeverity(t domain.ErrorType, msg string) domain.Severity {
	if strings.Contains(strings.ToLower(msg), "critical") {
		return domain.SeverityCritical
	}
	switch t {
	case domain.ErrorTypeSession, domain.ErrorTypeConfiguration:
		return domain.SeverityHigh
	case domain.ErrorTypeAPI, domain.ErrorTypeSystem:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// UserMessage picks the short non-technical message for a failure.
func UserMessage(t domain.ErrorType, msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return "The response is taking longer than usual, so we switched to a faster path."
	case strings.Contains(lower, "network"):
		return "The network connection is unstable. Reconnecting."
	case strings.Contains(lower, "authentication"):
		return "The service had an authentication problem and is repairing it automatically."
	}
	if m, ok := userMessages[t]; ok {
		return m
	}
	return "A temporary problem occurred. Please try again later."
}

func SuggestedAction(t domain.ErrorType) string {
	if a, ok := suggestedActions[t]; ok {
		return a
	}
	return "manual_intervention"
}

func (h *Handler) attemptRecovery(ctx context.Context, info domain.ErrorInfo, sess *domain.Session) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(ctx, "recovery failed", "type", info.Type, "panic", r)
			ok = false
		}
	}()

	switch info.Type {
	case domain.ErrorTypeAPI, domain.ErrorTypeNetwork:
		if sess == nil {
			return false
		}
		sess.FallbackActive = true
		return true
	case domain.ErrorTypeSession:
		if sess == nil {
			return false
		}
		fixed := sess.Repair(h.now().UTC())
		h.logger.InfoContext(ctx, "session repaired", "session_id", sess.ID, "fixed", fixed)
		return true
	case domain.ErrorTypeConfiguration:
		h.logger.WarnContext(ctx, "continuing with default configuration")
		return true
	default:
		return false
	}
}

func (h *Handler) log(ctx context.Context, info domain.ErrorInfo) {
	attrs := []any{
		"type", info.Type,
		"severity", info.Severity,
		"user_message", info.UserMessage,
		"suggested_action", info.SuggestedAction,
		"recovered", info.Recovered,
	}
	switch info.Severity {
	case domain.SeverityCritical, domain.SeverityHigh:
		h.logger.ErrorContext(ctx, info.Message, attrs...)
	case domain.SeverityMedium:
		h.logger.WarnContext(ctx, info.Message, attrs...)
	default:
		h.logger.InfoContext(ctx, info.Message, attrs...)
	}
}

func (h *Handler) store(info domain.ErrorInfo) {
	h.mu.Lock()
	h.history = append(h.history, info)
	if len(h.history) > h.capacity {
		h.history = append([]domain.ErrorInfo(nil), h.history[len(h.history)-h.capacity:]...)
	}
	h.total++
	h.byType[info.Type]++
	h.bySeverity[info.Severity]++
	if info.Severity == domain.SeverityCritical {
		h.critical++
	}
	h.mu.Unlock()

	if h.recorder != nil {
		h.recorder.Error(string(info.Type), string(info.Severity))
	}
}

func (h *Handler) fallbackInfo(err error) domain.ErrorInfo {
	return domain.ErrorInfo{
		Type:            domain.ErrorTypeSystem,
		Severity:        domain.SeverityCritical,
		Message:         errorMessage(err),
		UserMessage:     criticalUserMessage,
		Timestamp:       time.Now().UTC(),
		Context:         map[string]any{},
		SuggestedAction: "manual_intervention",
	}
}

func summarize(info domain.ErrorInfo, s *domain.Session) domain.ErrorRecord {
	return domain.ErrorRecord{
		Type:      info.Type,
		Severity:  info.Severity,
		Message:   info.UserMessage,
		Stage:     s.CurrentStage,
		Role:      s.CurrentRole,
		Timestamp: info.Timestamp,
	}
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func copyContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
