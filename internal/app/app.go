package app

import (
	"context"
	"fmt"
	"time"

	"vcopcoach/internal/auth"
	"vcopcoach/internal/config"
	"vcopcoach/internal/grading"
	httpserver "vcopcoach/internal/http"
	httpH "vcopcoach/internal/http/handlers"
	"vcopcoach/internal/httpx"
	"vcopcoach/internal/integrations/llm"
	"vcopcoach/internal/logger"
	"vcopcoach/internal/pipeline"
	"vcopcoach/internal/profile"
	"vcopcoach/internal/prompts"
	"vcopcoach/internal/storage/sqlite"
)

// Past submissions shown to the feedback pass as context.
const pastSubmissionContext = 3

// App holds the wired services shared by the server and the CLI commands.
type App struct {
	Config       config.Config
	Log          *logger.Logger
	DB           *sqlite.Provider
	Repo         *sqlite.Repository
	Orchestrator *pipeline.Orchestrator
	Profiles     *profile.Updater
	Grader       *grading.Grader
	Auth         *auth.Authenticator
}

// New loads the knowledge file, opens the store and wires every service.
func New(cfg config.Config, log *logger.Logger) (*App, error) {
	log = logger.OrNop(log)
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Info("Config loaded",
		"provider", cfg.LLMProvider,
		"model", cfg.LLMModel,
		"db_path", cfg.DBPath,
		"knowledge_path", cfg.KnowledgePath,
		"profile_auto_update", cfg.ProfileAutoUpdate,
		"external_http_timeout", appliedHTTPTimeout.String(),
	)
	if cfg.APIKey() == "" {
		log.Warn("No model API key configured; analysis requests will fail", "provider", cfg.LLMProvider)
	}

	knowledge, err := prompts.LoadKnowledge(cfg.KnowledgePath)
	if err != nil {
		return nil, fmt.Errorf("load knowledge: %w", err)
	}
	builder := prompts.NewBuilder(knowledge)

	provider := sqlite.NewProvider(cfg.DBPath)
	store, err := provider.Store()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	log.Info("Database initialized", "path", cfg.DBPath)
	repo := sqlite.NewRepository(store)

	completer := llm.NewCompleter(cfg, log)
	profiles := profile.NewUpdater(completer, builder, repo, log, cfg.LLMProfileModel)
	orchestrator := pipeline.New(completer, builder, repo, profiles, log, pipeline.Config{
		MaxTokens:         int64(cfg.LLMMaxTokens),
		ErrorCap:          cfg.ErrorCapPerCategory,
		PastSubmissions:   pastSubmissionContext,
		ProfileAutoUpdate: cfg.ProfileAutoUpdate,
		ProfileTimeout:    time.Duration(cfg.ProfileUpdateTimeoutSeconds) * time.Second,
	})

	return &App{
		Config:       cfg,
		Log:          log,
		DB:           provider,
		Repo:         repo,
		Orchestrator: orchestrator,
		Profiles:     profiles,
		Grader:       grading.NewGrader(completer, builder, log),
		Auth:         auth.NewAuthenticator(cfg.TeacherPassword, repo, log),
	}, nil
}

func (a *App) Router() httpserver.RouterConfig {
	return httpserver.RouterConfig{
		Log:               a.Log.With("component", "http"),
		CORSOrigins:       a.Config.CORSOrigins,
		Auth:              a.Auth,
		AnalyzeHandler:    httpH.NewAnalyzeHandler(a.Orchestrator),
		ProfileHandler:    httpH.NewProfileHandler(a.Profiles),
		GradingHandler:    httpH.NewGradingHandler(a.Grader),
		AuthHandler:       httpH.NewAuthHandler(a.Auth),
		SessionHandler:    httpH.NewSessionHandler(a.Repo),
		SubmissionHandler: httpH.NewSubmissionHandler(a.Repo, a.Grader, a.Profiles, a.Log),
		HealthHandler:     httpH.NewHealthHandler(),
	}
}

// Serve runs the HTTP server until ctx is cancelled. Background profile
// updates are allowed to finish before it returns.
func (a *App) Serve(ctx context.Context) error {
	server := httpserver.NewServer(a.Router())
	a.Log.Info("Starting VCOP coach", "addr", a.Config.ListenAddr)
	err := server.Run(ctx, a.Config.ListenAddr)
	a.Orchestrator.Wait()
	return err
}

func (a *App) Close() error {
	a.Log.Sync()
	return a.DB.Close()
}
