package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"cognitive-blackbox/handler"
	"cognitive-blackbox/internal/cache"
	"cognitive-blackbox/internal/casestore"
	"cognitive-blackbox/internal/config"
	"cognitive-blackbox/internal/domain"
	"cognitive-blackbox/internal/errhandler"
	"cognitive-blackbox/internal/integrations/paramstore"
	"cognitive-blackbox/internal/repository"
	"cognitive-blackbox/internal/session"
	"cognitive-blackbox/internal/telemetry"
	"cognitive-blackbox/internal/tokens"
	"cognitive-blackbox/internal/usecase"
)

// sessionStore is what both repository implementations provide.
type sessionStore interface {
	usecase.SessionStore
	usecase.SnapshotSource
	session.SnapshotWriter
}

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env file", "err", err)
	}
	cfg, err := config.Load(os.Getenv("CBB_CONFIG_FILE"))
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}

	var store sessionStore
	if cfg.SessionTable != "" {
		store, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.SessionTable)
		if err != nil {
			logger.Error("failed to create session repository", "err", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("no session table configured, sessions are kept in memory")
		store = repository.NewMemory()
	}

	cases, err := casestore.Load(cfg.CasesDir, cfg.PromptsDir, logger)
	if err != nil {
		logger.Error("failed to load cases", "err", err)
		os.Exit(1)
	}

	counter, err := tokens.New()
	if err != nil {
		logger.Warn("tokenizer unavailable, estimating token counts", "err", err)
		counter = tokens.Estimator()
	}

	metrics := telemetry.New()

	// ---- Core ----
	errorHandler := errhandler.New(
		errhandler.WithLogger(logger),
		errhandler.WithRecorder(metrics),
		errhandler.WithHistorySize(cfg.Errors.HistorySize),
		errhandler.WithSessionErrorLimit(cfg.Session.MaxErrors),
	)

	providers := newProviderSet(ssmClient, cfg, logger)

	sessionOpts := []session.Option{
		session.WithLogger(logger),
		session.WithTokenCounter(counter),
		session.WithRecorder(metrics),
		session.WithSnapshotWriter(store),
		session.WithMaxBackups(cfg.Session.MaxBackups),
	}
	if cfg.Providers.Moderation {
		if mod := providers.moderator(ctx); mod != nil {
			sessionOpts = append(sessionOpts, session.WithModerator(mod))
		}
	}
	sessions, err := session.NewManager(cases, sessionOpts...)
	if err != nil {
		logger.Error("failed to create session manager", "err", err)
		os.Exit(1)
	}

	orchOpts := []usecase.OrchestratorOption{
		usecase.WithPromptSource(cases),
		usecase.WithGenerationRecorder(metrics),
		usecase.WithOrchestratorLogger(logger),
		usecase.WithTimeout(cfg.Generation.Timeout),
		usecase.WithGenerationLimits(cfg.Generation.MaxTokens, cfg.Generation.Temperature),
		usecase.WithMinResponseLength(cfg.Generation.MinResponseLength),
		usecase.WithInputPrefix(cfg.Generation.InputPrefix),
	}
	for _, role := range domain.Roles() {
		if p := providers.forRole(ctx, role); p != nil {
			orchOpts = append(orchOpts, usecase.WithProvider(role, p))
		}
	}
	orchestrator, err := usecase.NewOrchestrator(cache.New(cfg.Cache.Size, cfg.Cache.TTL), errorHandler, orchOpts...)
	if err != nil {
		logger.Error("failed to create orchestrator", "err", err)
		os.Exit(1)
	}

	flow, err := usecase.NewFlowService(store, sessions, cases, orchestrator, errorHandler,
		usecase.WithFlowLogger(logger),
		usecase.WithSnapshotSource(store),
	)
	if err != nil {
		logger.Error("failed to create flow service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(flow,
		handler.WithMetrics(metrics, telemetry.ContentType()),
		handler.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
