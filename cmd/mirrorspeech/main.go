// Package main runs one speech turn against the speech services on NATS
// and serves the admin API while it runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/mirror-speech/internal/config"
	"github.com/capitalize-ai/mirror-speech/internal/handler"
	"github.com/capitalize-ai/mirror-speech/internal/host"
	"github.com/capitalize-ai/mirror-speech/internal/llm"
	"github.com/capitalize-ai/mirror-speech/internal/middleware"
	"github.com/capitalize-ai/mirror-speech/internal/model"
	natsclient "github.com/capitalize-ai/mirror-speech/internal/nats"
	"github.com/capitalize-ai/mirror-speech/internal/prompt"
	"github.com/capitalize-ai/mirror-speech/internal/service"
	"github.com/capitalize-ai/mirror-speech/internal/turn"
	"github.com/capitalize-ai/mirror-speech/pkg/logger"
	"github.com/capitalize-ai/mirror-speech/pkg/tracing"
)

const serviceName = "mirror-speech"

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 when the turn closes, 1 otherwise.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if err := middleware.ValidateSessionID(cfg.SessionID); err != nil {
		log.Error("invalid session id", zap.String("session_id", cfg.SessionID), zap.Error(err))
		return 1
	}
	log = log.WithSession(cfg.SessionID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
					log.Warn("failed to flush traces", zap.Error(err))
				}
			}()
		}
	}

	generator, err := newGenerator(cfg, log)
	if err != nil {
		log.Error("failed to create prompt generator", zap.Error(err))
		return 1
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, 10*time.Second)
	natsClient, err := natsclient.Connect(connectCtx, natsclient.Config{
		URL:      cfg.NATSURL,
		Name:     serviceName + "/" + cfg.SessionID,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	cancelConnect()
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		return 1
	}
	defer natsClient.Close()

	var records *service.RecordService
	if cfg.RecordsStream {
		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			return 1
		}
		records = service.NewRecordService(streamManager, log)
	}

	bus := natsclient.NewBus(natsClient, cfg.SessionID, log)

	var sink host.RecordSink
	if records != nil {
		sink = records
	}
	loop, err := host.NewLoop(host.Config{
		SessionID:    cfg.SessionID,
		TickInterval: cfg.TickInterval,
		Endless:      cfg.Endless,
		Timeouts: turn.Timeouts{
			ServiceCheck: cfg.ServiceCheckTimeout,
			Ask:          cfg.AskTimeout,
			Listen:       cfg.ListenTimeout,
			Repeat:       cfg.RepeatTimeout,
		},
		MaxFragmentLen: cfg.MaxFragmentLen,
		Generator:      generator,
		Metadata: map[string]any{
			"prompt_source": cfg.PromptSource,
			"locale":        cfg.PromptLocale,
		},
	}, bus, sink, log)
	if err != nil {
		log.Error("failed to create turn loop", zap.Error(err))
		return 1
	}

	turnCtx, stopTurn := context.WithCancel(ctx)
	defer stopTurn()

	inbound := make(chan model.Event, 64)
	unsubscribe, err := bus.Subscribe(turnCtx, inbound)
	if err != nil {
		log.Error("failed to subscribe to speech events", zap.Error(err))
		return 1
	}
	defer unsubscribe()

	var lister handler.RecordLister
	if records != nil {
		lister = records
	}
	server := &http.Server{
		Addr:         ":" + cfg.AdminPort,
		Handler:      newRouter(cfg, log, natsClient, loop, lister, stopTurn),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("admin server listening", zap.String("port", cfg.AdminPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server error", zap.Error(err))
			stopTurn()
		}
	}()

	runErr := loop.Run(turnCtx, inbound)
	stopTurn()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerWriteTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server forced to shutdown", zap.Error(err))
	}

	var failure *turn.Failure
	switch {
	case runErr == nil:
		log.Info("turn closed")
		return 0
	case errors.As(runErr, &failure):
		log.Error("turn failed", zap.String("reason", string(failure.Reason)), zap.Error(runErr))
		return 1
	default:
		log.Warn("turn interrupted", zap.Error(runErr))
		return 1
	}
}

func newGenerator(cfg *config.Config, log *logger.Logger) (turn.Generator, error) {
	switch cfg.PromptSource {
	case config.PromptSourceStatic:
		return prompt.Static(cfg.PromptText), nil
	case config.PromptSourceAnthropic:
		client, err := llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
		if err != nil {
			return nil, err
		}
		return prompt.NewLLMGenerator(client, cfg.LLMModel, cfg.PromptLocale, log), nil
	case config.PromptSourceOpenAI:
		client, err := llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		return prompt.NewLLMGenerator(client, cfg.LLMModel, cfg.PromptLocale, log), nil
	default:
		return prompt.NewTemplateGenerator(prompt.TemplateConfig{
			Dir:       cfg.PromptDir,
			File:      cfg.PromptFile,
			Locale:    cfg.PromptLocale,
			SessionID: cfg.SessionID,
		}, log)
	}
}

func newRouter(
	cfg *config.Config,
	log *logger.Logger,
	bus handler.ConnectionChecker,
	loop *host.Loop,
	records handler.RecordLister,
	stopTurn func(),
) http.Handler {
	healthHandler := handler.NewHealthHandler(bus)
	turnHandler := handler.NewTurnHandler(loop, records, stopTurn, log)
	streamHandler := handler.NewStreamHandler(loop, records, cfg.TickInterval*4, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeTurnRead))
			r.Get("/turn", turnHandler.Get)
			r.Get("/turn/stream", streamHandler.Stream)
			r.Get("/turns", turnHandler.ListRecords)
		})

		r.With(middleware.RequireScope(middleware.ScopeTurnAdmin)).Post("/turn/stop", turnHandler.Stop)
	})

	return r
}
