package main

import (
	"context"
	"log/slog"

	"cognitive-blackbox/internal/config"
	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/integrations/anthropic"
	"cognitive-blackbox/internal/integrations/gemini"
	"cognitive-blackbox/internal/integrations/openai"
	"cognitive-blackbox/internal/integrations/paramstore"
	"cognitive-blackbox/internal/usecase"
)

// providerSet builds each configured provider at most once. A provider whose
// token parameter is absent is left out, so its roles use the fallback.
type providerSet struct {
	ps     *paramstore.Client
	cfg    *config.Config
	logger *slog.Logger
	built  map[string]usecase.Provider
	openai *openai.Client
}

func newProviderSet(ps *paramstore.Client, cfg *config.Config, logger *slog.Logger) *providerSet {
	return &providerSet{ps: ps, cfg: cfg, logger: logger, built: map[string]usecase.Provider{}}
}

func (s *providerSet) forRole(ctx context.Context, role domain.Role) usecase.Provider {
	name := s.cfg.ProviderFor(role)
	if name == config.ProviderNone {
		return nil
	}
	if p, ok := s.built[name]; ok {
		return p
	}
	p := s.build(ctx, name)
	s.built[name] = p
	if p != nil {
		s.logger.Info("provider enabled", "role", role, "provider", name)
	}
	return p
}

// moderator returns the OpenAI client used for input moderation, or nil when
// no OpenAI token is configured.
func (s *providerSet) moderator(ctx context.Context) *openai.Client {
	if s.openai != nil {
		return s.openai
	}
	if !s.tokenPresent(ctx, "openai", openai.TokenParameterName(s.cfg.ParamPrefix)) {
		return nil
	}
	c, err := s.newOpenAI()
	if err != nil {
		s.logger.Error("failed to create OpenAI client", "err", err)
		return nil
	}
	return c
}

func (s *providerSet) build(ctx context.Context, name string) usecase.Provider {
	prefix := s.cfg.ParamPrefix
	switch name {
	case "gemini":
		if !s.tokenPresent(ctx, name, gemini.TokenParameterName(prefix)) {
			return nil
		}
		c, err := gemini.NewClient(s.ps, prefix,
			gemini.WithModel(s.cfg.Providers.Gemini.Model),
			gemini.WithBaseURL(s.cfg.Providers.Gemini.BaseURL),
		)
		if err != nil {
			s.logger.Error("failed to create Gemini client", "err", err)
			return nil
		}
		return c
	case "openai":
		if !s.tokenPresent(ctx, name, openai.TokenParameterName(prefix)) {
			return nil
		}
		c, err := s.newOpenAI()
		if err != nil {
			s.logger.Error("failed to create OpenAI client", "err", err)
			return nil
		}
		return c
	case "anthropic":
		if !s.tokenPresent(ctx, name, anthropic.TokenParameterName(prefix)) {
			return nil
		}
		c, err := anthropic.NewClient(s.ps, prefix,
			anthropic.WithModel(s.cfg.Providers.Anthropic.Model),
			anthropic.WithBaseURL(s.cfg.Providers.Anthropic.BaseURL),
		)
		if err != nil {
			s.logger.Error("failed to create Anthropic client", "err", err)
			return nil
		}
		return c
	}
	s.logger.Warn("unknown provider", "provider", name)
	return nil
}

func (s *providerSet) newOpenAI() (*openai.Client, error) {
	if s.openai != nil {
		return s.openai, nil
	}
	opts := []openai.Option{openai.WithModel(s.cfg.Providers.OpenAI.Model)}
	if s.cfg.Providers.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(s.cfg.Providers.OpenAI.BaseURL))
	}
	c, err := openai.NewClient(s.ps, s.cfg.ParamPrefix, opts...)
	if err != nil {
		return nil, err
	}
	s.openai = c
	return c, nil
}

// tokenPresent reports whether the provider's token parameter exists. Lookup
// failures disable the provider rather than the process.
func (s *providerSet) tokenPresent(ctx context.Context, provider, param string) bool {
	_, ok, err := s.ps.Lookup(ctx, param)
	if err != nil {
		s.logger.Warn("token lookup failed, provider disabled", "provider", provider, "parameter", param, "err", err)
		return false
	}
	if !ok {
		s.logger.Info("no token configured, provider disabled", "provider", provider, "parameter", param)
	}
	return ok
}
