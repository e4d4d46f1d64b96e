package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"time"

	"cognitive-blackbox/internal/cache"
	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/errhandler"
	"cognitive-blackbox/internal/fallback"
	"cognitive-blackbox/internal/personalization"
	"cognitive-blackbox/internal/telemetry"
)

const (
	DefaultGenerationTimeout = 8 * time.Second
	DefaultMaxTokens         = 2048
	DefaultTemperature       = 0.7
	DefaultMinResponseLength = 100
	DefaultInputPrefix       = 50

	sourceCache = "cache"
)

// Provider is a generative text backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

type ResponseCache interface {
	Get(k cache.Key) (string, bool)
	Put(k cache.Key, text string)
	Stats() cache.Stats
	Clear()
}

type PromptSource interface {
	Prompt(role domain.Role) (domain.PromptDefinition, bool)
}

// ErrorReporter is the part of the error handler the orchestrator reports to.
type ErrorReporter interface {
	Handle(ctx context.Context, err error, errType domain.ErrorType, opts errhandler.Options) domain.ErrorInfo
	HandleTimeout(ctx context.Context, provider string, timeout time.Duration, sess *domain.Session) domain.ErrorInfo
}

type GenerationRecorder interface {
	ObserveGeneration(role, source string, d time.Duration)
	CacheLookup(hit bool)
}

// FailureReason says why a result came from the fallback path.
type FailureReason string

const (
	FailureNone            FailureReason = ""
	FailureUnknownRole     FailureReason = "unknown_role"
	FailureNoProvider      FailureReason = "no_provider"
	FailureFallbackMode    FailureReason = "fallback_mode"
	FailureTimeout         FailureReason = "timeout"
	FailureProviderError   FailureReason = "provider_error"
	FailureQualityRejected FailureReason = "quality_rejected"
)

// GenerationContext is the read-only view of a session the orchestrator
// works from. Zero values are replaced with safe defaults.
type GenerationContext struct {
	CaseID       string
	CaseTitle    string
	Stage        int
	TotalStages  int
	Personalized bool
	Inputs       map[string]string
	History      []domain.ConversationTurn
	// Session, when set, receives error records and recovery flags.
	Session *domain.Session
}

// ContextFromSession snapshots what generation needs from s.
func ContextFromSession(s *domain.Session, caseTitle string) GenerationContext {
	if s == nil {
		return GenerationContext{CaseTitle: caseTitle}
	}
	return GenerationContext{
		CaseID:       s.CaseID,
		CaseTitle:    caseTitle,
		Stage:        s.CurrentStage,
		TotalStages:  s.TotalStages,
		Personalized: s.PersonalizationActive,
		Inputs:       s.Decisions(),
		History:      s.RecentTurns(historyTurns),
		Session:      s,
	}
}

func (g GenerationContext) normalized() GenerationContext {
	if g.TotalStages < 1 {
		g.TotalStages = domain.DefaultTotalStages
	}
	if g.Stage < 1 {
		g.Stage = 1
	}
	if g.Stage > g.TotalStages {
		g.Stage = g.TotalStages
	}
	if g.Inputs == nil {
		g.Inputs = map[string]string{}
	}
	return g
}

func (g GenerationContext) fallbackActive() bool {
	return g.Session != nil && g.Session.FallbackActive
}

func (g GenerationContext) personalizationPairs() [][2]string {
	if !g.Personalized {
		return nil
	}
	keys := make([]string, 0, len(g.Inputs))
	for k, v := range g.Inputs {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, g.Inputs[k]})
	}
	return out
}

// Result is what a generation produced. UsedProvider and Source are
// diagnostics only; callers show Text the same way either way.
type Result struct {
	Text         string
	Role         domain.Role
	UsedProvider bool
	Source       string
	Failure      FailureReason
	Notice       string
	Latency      time.Duration
	Profile      personalization.Profile
}

// Orchestrator turns a role, an input and a session context into text. It
// is safe for concurrent use as long as its providers are.
type Orchestrator struct {
	cache     ResponseCache
	errors    ErrorReporter
	providers map[domain.Role]Provider
	prompts   PromptSource
	metrics   GenerationRecorder
	logger    *slog.Logger

	timeout     time.Duration
	maxTokens   int
	temperature float64
	minLength   int
	inputPrefix int
}

type OrchestratorOption func(*Orchestrator)

// WithProvider assigns p to role. A nil provider leaves the role on the fallback path.
func WithProvider(role domain.Role, p Provider) OrchestratorOption {
	return func(o *Orchestrator) {
		if p == nil {
			delete(o.providers, role)
			return
		}
		o.providers[role] = p
	}
}

func WithPromptSource(ps PromptSource) OrchestratorOption {
	return func(o *Orchestrator) { o.prompts = ps }
}

func WithGenerationRecorder(r GenerationRecorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if r != nil {
			o.metrics = r
		}
	}
}

func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithGenerationLimits sets the provider request limits. Non-positive values keep the defaults.
func WithGenerationLimits(maxTokens int, temperature float64) OrchestratorOption {
	return func(o *Orchestrator) {
		if maxTokens > 0 {
			o.maxTokens = maxTokens
		}
		if temperature > 0 {
			o.temperature = temperature
		}
	}
}

func WithMinResponseLength(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.minLength = n
		}
	}
}

func WithInputPrefix(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.inputPrefix = n
		}
	}
}

func NewOrchestrator(c ResponseCache, eh ErrorReporter, opts ...OrchestratorOption) (*Orchestrator, error) {
	if c == nil {
		return nil, errors.New("usecase: response cache must not be nil")
	}
	if eh == nil {
		return nil, errors.New("usecase: error reporter must not be nil")
	}
	o := &Orchestrator{
		cache:       c,
		errors:      eh,
		providers:   map[domain.Role]Provider{},
		metrics:     telemetry.Noop{},
		logger:      slog.Default(),
		timeout:     DefaultGenerationTimeout,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		minLength:   DefaultMinResponseLength,
		inputPrefix: DefaultInputPrefix,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Generate always returns usable text. Provider failures, timeouts and
// rejected responses are absorbed into the fallback path.
func (o *Orchestrator) Generate(ctx context.Context, role domain.Role, input string, gen GenerationContext) Result {
	start := time.Now()
	gen = gen.normalized()

	if !role.Valid() {
		o.logger.WarnContext(ctx, "unknown role, using generic fallback", "role", string(role))
		return o.finish(Result{
			Text:    fallback.Render(fallback.Input{Role: role}),
			Role:    role,
			Source:  domain.ProviderFallback,
			Failure: FailureUnknownRole,
		}, start)
	}

	profile := personalization.Analyze(gen.Inputs)
	key := cache.NewKey(role, input, gen.Stage, gen.Personalized, o.inputPrefix)
	// The key only carries whether personalization is on, so a hit written
	// for another user's system is treated as a miss.
	if text, ok := o.cache.Get(key); ok && namesSystem(text, gen) {
		o.metrics.CacheLookup(true)
		return o.finish(Result{Text: text, Role: role, UsedProvider: true, Source: sourceCache, Profile: profile}, start)
	}
	o.metrics.CacheLookup(false)

	var def *domain.PromptDefinition
	if o.prompts != nil {
		if d, ok := o.prompts.Prompt(role); ok {
			def = &d
		}
	}

	text, failure, notice := o.tryProvider(ctx, role, input, gen, profile, def, key)
	if failure == FailureNone {
		return o.finish(Result{
			Text:         text,
			Role:         role,
			UsedProvider: true,
			Source:       o.providers[role].Name(),
			Profile:      profile,
		}, start)
	}

	in := fallbackInput(role, gen, profile, def)
	if failure == FailureTimeout {
		in.Reason = "timeout"
	}
	return o.finish(Result{
		Text:    fallback.Render(in),
		Role:    role,
		Source:  domain.ProviderFallback,
		Failure: failure,
		Notice:  notice,
		Profile: profile,
	}, start)
}

// tryProvider calls the role's provider and caches an accepted response.
func (o *Orchestrator) tryProvider(ctx context.Context, role domain.Role, input string, gen GenerationContext, profile personalization.Profile, def *domain.PromptDefinition, key cache.Key) (string, FailureReason, string) {
	p, ok := o.providers[role]
	if !ok {
		return "", FailureNoProvider, ""
	}
	if gen.fallbackActive() {
		return "", FailureFallbackMode, ""
	}

	prompt := buildPrompt(promptInput{role: role, input: input, gen: gen, profile: profile, definition: def})
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	text, err := callProvider(callCtx, p, domain.GenerationRequest{
		Prompt:      prompt,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		if timedOut || isTimeout(err) {
			info := o.errors.HandleTimeout(ctx, p.Name(), o.timeout, gen.Session)
			return "", FailureTimeout, info.UserMessage
		}
		errType := errhandler.Classify(err)
		if errType != domain.ErrorTypeNetwork {
			errType = domain.ErrorTypeAPI
		}
		info := o.errors.Handle(ctx, err, errType, errhandler.Options{
			Context:     map[string]any{"role": string(role), "provider": p.Name(), "stage": gen.Stage},
			Session:     gen.Session,
			AutoRecover: true,
		})
		return "", FailureProviderError, info.UserMessage
	}

	if reason := o.checkQuality(text, gen); reason != "" {
		o.logger.InfoContext(ctx, "provider response rejected", "role", string(role), "provider", p.Name(), "reason", reason)
		return "", FailureQualityRejected, ""
	}
	o.cache.Put(key, text)
	return text, FailureNone, ""
}

// checkQuality returns a rejection reason, or "" when text is acceptable.
func (o *Orchestrator) checkQuality(text string, gen GenerationContext) string {
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "":
		return "empty"
	case len([]rune(trimmed)) < o.minLength:
		return "too_short"
	case domain.ContainsPlaceholder(trimmed):
		return "placeholder"
	}
	if !namesSystem(trimmed, gen) {
		return "missing_system_name"
	}
	return ""
}

// namesSystem reports whether text mentions the user's system name, when one is set.
func namesSystem(text string, gen GenerationContext) bool {
	name := strings.TrimSpace(gen.Inputs[domain.InputSystemName])
	return name == "" || strings.Contains(text, name)
}

func (o *Orchestrator) finish(r Result, start time.Time) Result {
	r.Latency = time.Since(start)
	label := string(r.Role)
	if !r.Role.Valid() {
		label = "unknown"
	}
	o.metrics.ObserveGeneration(label, r.Source, r.Latency)
	return r
}

func (o *Orchestrator) CacheStats() cache.Stats { return o.cache.Stats() }

func (o *Orchestrator) ClearCache() { o.cache.Clear() }

// ProviderFor reports the provider name serving role, if any.
func (o *Orchestrator) ProviderFor(role domain.Role) (string, bool) {
	p, ok := o.providers[role]
	if !ok {
		return "", false
	}
	return p.Name(), true
}

type providerReply struct {
	text string
	err  error
}

// callProvider returns when p answers or ctx is done, whichever comes
// first, and converts a provider panic into an error.
func callProvider(ctx context.Context, p Provider, req domain.GenerationRequest) (string, error) {
	done := make(chan providerReply, 1)
	go func() {
		var r providerReply
		defer func() {
			if v := recover(); v != nil {
				r = providerReply{err: fmt.Errorf("usecase: provider %s panicked: %v", p.Name(), v)}
			}
			done <- r
		}()
		r.text, r.err = p.Generate(ctx, req)
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func fallbackInput(role domain.Role, gen GenerationContext, profile personalization.Profile, def *domain.PromptDefinition) fallback.Input {
	return fallback.Input{
		Role:          role,
		SystemName:    gen.Inputs[domain.InputSystemName],
		CorePrinciple: gen.Inputs[domain.InputCorePrinciple],
		CompanyName:   gen.Inputs[domain.InputCompanyName],
		CaseTitle:     gen.CaseTitle,
		Profile:       profile,
		Prompt:        def,
	}
}
