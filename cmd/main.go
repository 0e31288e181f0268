package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/voicebridge/stream-service/internal/app"
	"github.com/voicebridge/stream-service/internal/audio"
	"github.com/voicebridge/stream-service/internal/broadcast"
	"github.com/voicebridge/stream-service/internal/config"
	"github.com/voicebridge/stream-service/internal/dispatch"
	"github.com/voicebridge/stream-service/internal/observability"
	"github.com/voicebridge/stream-service/internal/queue"
	"github.com/voicebridge/stream-service/internal/ratelimit"
	"github.com/voicebridge/stream-service/internal/server"
	"github.com/voicebridge/stream-service/internal/session"
	"github.com/voicebridge/stream-service/internal/stt"
	"github.com/voicebridge/stream-service/internal/stt/google"
	"github.com/voicebridge/stream-service/internal/stt/mock"
	"github.com/voicebridge/stream-service/internal/stt/openai"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	application := app.New(cfg)
	application.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, cleanup := buildProviders(ctx, cfg)
	defer cleanup()

	dispatcher := dispatch.New(providers, dispatch.Config{
		AttemptTimeout:     cfg.Dispatch.AttemptTimeout,
		RetriesPerProvider: cfg.Dispatch.RetriesPerProvider,
		AttemptLogSize:     cfg.Dispatch.AttemptLogSize,
	})

	bridge := queue.New(cfg.Queue, cfg.Service.Principal)
	defer bridge.Close()

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	frameLimiter := ratelimit.New(cfg.RateLimit.FramesPerSecond, cfg.RateLimit.FramesBurst)

	var publisher session.SegmentPublisher
	if bridge.Enabled() {
		publisher = bridge
	}
	manager := session.NewManager(session.Config{
		MaxSessions:        cfg.Session.MaxSessions,
		MaxPerClient:       cfg.Session.MaxPerClient,
		IdleTimeout:        cfg.Session.IdleTimeout,
		DrainGrace:         cfg.Session.DrainGrace,
		OutboundBuffer:     cfg.Session.OutboundBuffer,
		ReapInterval:       cfg.Session.ReapInterval,
		InflightPerSession: cfg.Dispatch.InflightPerSession,
		PendingSegments:    cfg.Dispatch.PendingSegments,
		Audio: audio.Config{
			WindowDuration: cfg.Audio.WindowDuration,
			SampleRateHz:   cfg.Audio.SampleRateHz,
			Channels:       cfg.Audio.Channels,
			BytesPerSample: cfg.Audio.BytesPerSample,
			Format:         cfg.Audio.Format,
		},
		Reorder: broadcast.Config{
			BufferSize: cfg.Reorder.BufferSize,
			MaxWait:    cfg.Reorder.MaxWait,
		},
	}, limiter, frameLimiter, dispatcher, publisher)
	manager.StartReaper()

	if bridge.Enabled() {
		go bridge.RunWorkers(ctx, dispatcher)
		go bridge.RunResultConsumer(ctx, manager.Route)
	}

	metricsServer := observability.NewServer(cfg.Observability.MetricsAddr, func() bool {
		return true
	})
	metricsServer.Start()

	srv := server.New(application, manager, dispatcher, bridge)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	manager.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	application.Shutdown()
}

// buildProviders constructs the fallback chain in configured order. A
// provider that fails to initialize is skipped with a warning rather than
// aborting startup; the mock provider is the fallback of last resort when
// nothing else could be built.
func buildProviders(ctx context.Context, cfg *config.Configuration) ([]stt.Provider, func()) {
	var providers []stt.Provider
	var closers []func()

	for _, name := range cfg.Providers.Order {
		switch name {
		case "openai":
			p, err := openai.New(openai.Config{
				APIKey:         cfg.Providers.OpenAIAPIKey,
				Model:          cfg.Providers.OpenAIModel,
				Language:       cfg.Providers.LanguageCode,
				SampleRateHz:   cfg.Audio.SampleRateHz,
				Channels:       cfg.Audio.Channels,
				BytesPerSample: cfg.Audio.BytesPerSample,
			})
			if err != nil {
				log.Warn().Err(err).Msg("skipping openai provider")
				continue
			}
			providers = append(providers, p)
		case "google":
			p, err := google.New(ctx, google.Config{
				LanguageCode: cfg.Providers.LanguageCode,
				SampleRateHz: cfg.Audio.SampleRateHz,
			})
			if err != nil {
				log.Warn().Err(err).Msg("skipping google provider")
				continue
			}
			providers = append(providers, p)
			closers = append(closers, func() { _ = p.Close() })
		case "mock":
			providers = append(providers, mock.New())
		default:
			log.Warn().Str("provider", name).Msg("unknown provider in PROVIDER_ORDER, skipping")
		}
	}

	if len(providers) == 0 {
		log.Warn().Msg("no providers could be built, falling back to mock")
		providers = append(providers, mock.New())
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return providers, cleanup
}
