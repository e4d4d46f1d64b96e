package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cognitive-blackbox/internal/cache"
	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/errhandler"
	"cognitive-blackbox/internal/fallback"
	"cognitive-blackbox/internal/session"
	"cognitive-blackbox/internal/validate"
)

// messageField is the validation field used for free-form generation input.
const messageField = "user_message"

// SessionStore persists sessions between requests. Load reports
// session.ErrNoSession for unknown ids and session.ErrCorruptSession for
// undecodable state.
type SessionStore interface {
	Load(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, s *domain.Session) error
}

// SnapshotSource reads durable backups, oldest first.
type SnapshotSource interface {
	ListSnapshots(ctx context.Context, sessionID string, limit int) ([]session.Snapshot, error)
}

type CaseCatalog interface {
	Case(id string) (domain.CaseDefinition, error)
	IDs() []string
}

type Generator interface {
	Generate(ctx context.Context, role domain.Role, input string, gen GenerationContext) Result
	CacheStats() cache.Stats
	ClearCache()
}

type ErrorHandler interface {
	Handle(ctx context.Context, err error, errType domain.ErrorType, opts errhandler.Options) domain.ErrorInfo
	HandleValidation(ctx context.Context, field, value, message string) domain.ErrorInfo
	Stats() errhandler.Stats
}

// FlowService runs one request against one session: load, mutate through the
// session manager, save.
type FlowService struct {
	store     SessionStore
	sessions  *session.Manager
	cases     CaseCatalog
	generator Generator
	errors    ErrorHandler
	snapshots SnapshotSource
	logger    *slog.Logger
	now       func() time.Time
}

type FlowOption func(*FlowService)

func WithFlowLogger(l *slog.Logger) FlowOption {
	return func(f *FlowService) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithSnapshotSource lets restores fall back to durable backups when the
// process holds none.
func WithSnapshotSource(src SnapshotSource) FlowOption {
	return func(f *FlowService) {
		f.snapshots = src
	}
}

func WithFlowClock(now func() time.Time) FlowOption {
	return func(f *FlowService) {
		if now != nil {
			f.now = now
		}
	}
}

type StartInput struct {
	CaseID string
	UserID string
}

type InputRequest struct {
	Type     string
	Content  string
	Metadata map[string]any
}

type GenerateInput struct {
	Input string
	// Role overrides the current stage role when set.
	Role string
}

type SessionView struct {
	Session *domain.Session
	Summary session.Summary
	// Message is the role transition line after an advance.
	Message string
}

type Diagnostics struct {
	UsedProvider bool          `json:"usedProvider"`
	Source       string        `json:"source"`
	Failure      FailureReason `json:"failure,omitempty"`
	Latency      time.Duration `json:"latency"`
}

type GenerateOutput struct {
	Text        string
	Role        domain.Role
	Stage       int
	Notice      string
	Tool        *domain.GeneratedTool
	Diagnostics Diagnostics
}

func NewFlowService(store SessionStore, sessions *session.Manager, cases CaseCatalog, gen Generator, eh ErrorHandler, opts ...FlowOption) (*FlowService, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session manager must not be nil")
	}
	if cases == nil {
		return nil, errors.New("usecase: case catalog must not be nil")
	}
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if eh == nil {
		return nil, errors.New("usecase: error handler must not be nil")
	}
	f := &FlowService{
		store:     store,
		sessions:  sessions,
		cases:     cases,
		generator: gen,
		errors:    eh,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Cases lists the metadata of every loadable case, in id order.
func (f *FlowService) Cases() []domain.CaseMetadata {
	ids := f.cases.IDs()
	out := make([]domain.CaseMetadata, 0, len(ids))
	for _, id := range ids {
		def, err := f.cases.Case(id)
		if err != nil {
			continue
		}
		out = append(out, def.Metadata)
	}
	return out
}

func (f *FlowService) Start(ctx context.Context, in StartInput) (SessionView, error) {
	caseID := strings.TrimSpace(in.CaseID)
	if caseID == "" {
		return SessionView{}, &Error{Code: ErrorValidation, Reason: "empty_case_id", UserMessage: "A case must be selected."}
	}
	sess, err := f.sessions.Start(ctx, caseID, in.UserID)
	if err != nil {
		return SessionView{}, f.fail(ctx, nil, "start_failed", err)
	}
	if err := f.save(ctx, sess); err != nil {
		return SessionView{}, err
	}
	f.logger.InfoContext(ctx, "session started", "session_id", sess.ID, "case_id", sess.CaseID, "stages", sess.TotalStages)
	return f.view(sess, ""), nil
}

func (f *FlowService) Get(ctx context.Context, id string) (SessionView, error) {
	sess, err := f.load(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	return f.view(sess, ""), nil
}

func (f *FlowService) Advance(ctx context.Context, id string) (SessionView, error) {
	sess, err := f.load(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	msg, err := f.sessions.Advance(ctx, sess)
	if err != nil {
		return SessionView{}, f.fail(ctx, sess, "advance_failed", err)
	}
	if err := f.save(ctx, sess); err != nil {
		return SessionView{}, err
	}
	return f.view(sess, msg), nil
}

func (f *FlowService) Retreat(ctx context.Context, id string) (SessionView, error) {
	sess, err := f.load(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	if err := f.sessions.Retreat(ctx, sess); err != nil {
		return SessionView{}, f.fail(ctx, sess, "retreat_failed", err)
	}
	if err := f.save(ctx, sess); err != nil {
		return SessionView{}, err
	}
	return f.view(sess, ""), nil
}

func (f *FlowService) Reset(ctx context.Context, id string) (SessionView, error) {
	sess, err := f.load(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	fresh, err := f.sessions.Reset(ctx, sess)
	if err != nil {
		return SessionView{}, f.fail(ctx, sess, "reset_failed", err)
	}
	if err := f.save(ctx, fresh); err != nil {
		return SessionView{}, err
	}
	return f.view(fresh, ""), nil
}

func (f *FlowService) Finish(ctx context.Context, id string) (SessionView, error) {
	sess, err := f.load(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	if err := f.sessions.Finish(ctx, sess); err != nil {
		return SessionView{}, f.fail(ctx, sess, "finish_failed", err)
	}
	if err := f.save(ctx, sess); err != nil {
		return SessionView{}, err
	}
	return f.view(sess, ""), nil
}

func (f *FlowService) SubmitInput(ctx context.Context, id string, req InputRequest) (SessionView, error) {
	sess, err := f.load(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	if _, err := f.sessions.SubmitInput(ctx, sess, req.Type, req.Content, req.Metadata); err != nil {
		return SessionView{}, f.rejectInput(ctx, sess, req.Content, err)
	}
	if err := f.save(ctx, sess); err != nil {
		return SessionView{}, err
	}
	return f.view(sess, ""), nil
}

// Generate produces the next turn for the session's current role (or the
// requested one) and records it. The assistant role also yields a tool.
func (f *FlowService) Generate(ctx context.Context, id string, in GenerateInput) (GenerateOutput, error) {
	sess, err := f.load(ctx, id)
	if err != nil {
		return GenerateOutput{}, err
	}

	input := strings.TrimSpace(in.Input)
	var userInput *domain.UserInput
	if input != "" {
		if err := validate.Input(messageField, input); err != nil {
			return GenerateOutput{}, f.rejectInput(ctx, sess, input, err)
		}
		userInput = &domain.UserInput{Type: messageField, Content: input, Valid: true, Timestamp: f.now().UTC()}
	}

	role := sess.CurrentRole
	if r := strings.TrimSpace(in.Role); r != "" {
		if parsed, ok := domain.ParseRole(r); ok {
			role = parsed
		} else {
			role = domain.Role(r)
		}
	}
	title := f.caseTitle(sess.CaseID)

	res := f.generator.Generate(ctx, role, input, ContextFromSession(sess, title))
	f.sessions.RecordTurn(ctx, sess, session.TurnInput{
		Role:     res.Role,
		Message:  res.Text,
		Input:    userInput,
		Latency:  res.Latency,
		Provider: res.Source,
		Metadata: map[string]any{"used_provider": res.UsedProvider, "failure": string(res.Failure)},
	})

	out := GenerateOutput{
		Text:   res.Text,
		Role:   res.Role,
		Stage:  sess.CurrentStage,
		Notice: res.Notice,
		Diagnostics: Diagnostics{
			UsedProvider: res.UsedProvider,
			Source:       res.Source,
			Failure:      res.Failure,
			Latency:      res.Latency,
		},
	}
	if res.Role == domain.RoleAssistant {
		fin := fallback.FromSession(res.Role, sess, res.Profile, nil)
		fin.CaseTitle = title
		tool, _ := f.sessions.AddTool(ctx, sess, fallback.Tool(fin, res.Text, sess.PersonalizationActive, f.now().UTC()))
		out.Tool = &tool
	}

	if err := f.save(ctx, sess); err != nil {
		return GenerateOutput{}, err
	}
	return out, nil
}

func (f *FlowService) TriggerMoment(ctx context.Context, id, name string) (domain.MagicMoment, error) {
	sess, err := f.load(ctx, id)
	if err != nil {
		return domain.MagicMoment{}, err
	}
	mm, err := f.sessions.TriggerMagicMoment(ctx, sess, strings.TrimSpace(name))
	if err != nil {
		return domain.MagicMoment{}, f.fail(ctx, sess, "moment_failed", err)
	}
	if err := f.save(ctx, sess); err != nil {
		return domain.MagicMoment{}, err
	}
	return mm, nil
}

func (f *FlowService) UseTool(ctx context.Context, id, name string) (domain.GeneratedTool, error) {
	sess, err := f.load(ctx, id)
	if err != nil {
		return domain.GeneratedTool{}, err
	}
	tool, err := f.sessions.UseTool(ctx, sess, name)
	if err != nil {
		return domain.GeneratedTool{}, f.fail(ctx, sess, "use_tool_failed", err)
	}
	if err := f.save(ctx, sess); err != nil {
		return domain.GeneratedTool{}, err
	}
	return tool, nil
}

func (f *FlowService) Export(ctx context.Context, id string) ([]byte, error) {
	sess, err := f.load(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := session.Export(sess)
	if err != nil {
		return nil, f.fail(ctx, sess, "export_failed", err)
	}
	return data, nil
}

// Restore replaces the stored session with its newest backup.
func (f *FlowService) Restore(ctx context.Context, id string) (SessionView, error) {
	sess, err := f.restore(ctx, strings.TrimSpace(id))
	if err != nil {
		return SessionView{}, f.fail(ctx, nil, "restore_failed", err)
	}
	if err := f.save(ctx, sess); err != nil {
		return SessionView{}, err
	}
	return f.view(sess, ""), nil
}

func (f *FlowService) ErrorStats() errhandler.Stats { return f.errors.Stats() }

func (f *FlowService) CacheStats() cache.Stats { return f.generator.CacheStats() }

func (f *FlowService) ClearCache() { f.generator.ClearCache() }

// load fetches a session. Corrupt state is replaced by the newest backup when
// one exists; invalid fields are repaired and reported as a SESSION error.
func (f *FlowService) load(ctx context.Context, id string) (*domain.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &Error{Code: ErrorValidation, Reason: "empty_session_id", UserMessage: "A session id is required."}
	}
	sess, err := f.store.Load(ctx, id)
	if errors.Is(err, session.ErrCorruptSession) {
		info := f.errors.Handle(ctx, err, domain.ErrorTypeSession, errhandler.Options{Context: map[string]any{"session_id": id}})
		restored, rerr := f.restore(ctx, id)
		if rerr != nil {
			return nil, fromInfo("corrupt_session", info, err)
		}
		f.logger.WarnContext(ctx, "session restored from backup", "session_id", id, "stage", restored.CurrentStage)
		sess, err = restored, nil
	}
	if err != nil {
		return nil, f.fail(ctx, nil, "session_load_failed", err)
	}
	if fixed := f.sessions.Repair(ctx, sess); len(fixed) > 0 {
		f.errors.Handle(ctx, fmt.Errorf("usecase: session %s had invalid fields %v", id, fixed), domain.ErrorTypeSession, errhandler.Options{
			Context: map[string]any{"session_id": id, "fixed": fixed},
			Session: sess,
		})
	}
	return sess, nil
}

// restore prefers the in-process ring and falls back to the newest durable
// snapshot that still decodes.
func (f *FlowService) restore(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := f.sessions.Restore(id)
	if err == nil || !errors.Is(err, session.ErrNoBackup) || f.snapshots == nil {
		return sess, err
	}
	snaps, lerr := f.snapshots.ListSnapshots(ctx, id, 5)
	if lerr != nil {
		f.logger.WarnContext(ctx, "list durable snapshots failed", "session_id", id, "error", lerr)
		return nil, err
	}
	for i := len(snaps) - 1; i >= 0; i-- {
		restored, derr := session.Decode(snaps[i].Data)
		if derr != nil || restored.ID != id {
			continue
		}
		return restored, nil
	}
	return nil, err
}

func (f *FlowService) save(ctx context.Context, sess *domain.Session) error {
	if err := f.store.Save(ctx, sess); err != nil {
		return f.fail(ctx, sess, "session_save_failed", err)
	}
	return nil
}

func (f *FlowService) view(sess *domain.Session, msg string) SessionView {
	return SessionView{Session: sess, Summary: f.sessions.Summary(sess), Message: msg}
}

func (f *FlowService) caseTitle(caseID string) string {
	def, err := f.cases.Case(caseID)
	if err != nil || def.Metadata.Title == "" {
		return caseID
	}
	return def.Metadata.Title
}

// rejectInput reports a refused user value. Format and security failures go
// through the validation path, semantic ones through the general handler.
func (f *FlowService) rejectInput(ctx context.Context, sess *domain.Session, value string, err error) error {
	var fe *validate.FieldError
	if !errors.As(err, &fe) {
		return f.fail(ctx, sess, "invalid_input", err)
	}
	if fe.Kind == domain.ErrorTypeValidation {
		info := f.errors.HandleValidation(ctx, fe.Field, value, fe.Message)
		return fromInfo("invalid_input", info, err)
	}
	info := f.errors.Handle(ctx, err, fe.Kind, errhandler.Options{
		Context: map[string]any{"field": fe.Field},
		Session: sess,
	})
	ue := fromInfo("invalid_input", info, err)
	ue.UserMessage = fe.Message
	return ue
}

// fail maps err to a use-case error. Boundary and lookup outcomes are
// returned as-is; everything else is classified and handled.
func (f *FlowService) fail(ctx context.Context, sess *domain.Session, reason string, err error) error {
	if ue, ok := boundaryError(err); ok {
		return ue
	}
	if ue, ok := notFoundError(err); ok {
		return ue
	}
	errType := errhandler.Classify(err)
	info := f.errors.Handle(ctx, err, errType, errhandler.Options{
		Context:     map[string]any{"reason": reason},
		Session:     sess,
		AutoRecover: true,
	})
	return fromInfo(reason, info, err)
}
