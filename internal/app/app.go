// Package app assembles the service from its parts and owns their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"voice-reservation-gateway/internal/bridge"
	"voice-reservation-gateway/internal/config"
	"voice-reservation-gateway/internal/events"
	"voice-reservation-gateway/internal/httpapi"
	"voice-reservation-gateway/internal/llm"
	"voice-reservation-gateway/internal/observability"
	"voice-reservation-gateway/internal/observability/logging"
	"voice-reservation-gateway/internal/session"
	"voice-reservation-gateway/internal/store"
	"voice-reservation-gateway/internal/stt"
	"voice-reservation-gateway/internal/stt/asr"
	"voice-reservation-gateway/internal/stt/google"
	"voice-reservation-gateway/internal/stt/mock"
	"voice-reservation-gateway/internal/tts"
)

// Application holds the assembled service.
type Application struct {
	cfg *config.Config

	Sessions  *session.Tracker
	Store     *store.MemoryStore
	Publisher *events.Publisher
	LLM       *llm.Client
	Bridge    *bridge.Bridge

	httpServer *http.Server
	obsServer  *observability.Server
	cancelRun  context.CancelFunc
}

// New wires the service from configuration.
func New(cfg *config.Config) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		TimeFormat: time.RFC3339,
	})

	a := &Application{cfg: cfg}

	a.Sessions = session.NewTracker(session.Config{
		InactivityTimeout: cfg.Sessions.InactivityTimeout,
		SweepInterval:     cfg.Sessions.SweepInterval,
		MaxSessions:       cfg.Sessions.MaxActive,
	})
	a.Store = store.NewMemoryStore()
	a.Publisher = events.New(&events.Config{
		Enabled:   cfg.Kafka.Enabled,
		Brokers:   cfg.Kafka.Brokers,
		Principal: cfg.Service.Principal,
	})
	a.LLM = llm.NewClient(llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
		HistoryLimit: cfg.LLM.HistoryLimit,
		Timeout:      cfg.LLM.Timeout,
	})
	speech := tts.NewClient(tts.Config{
		BaseURL: cfg.TTS.BaseURL,
		Voice:   cfg.TTS.Voice,
		Timeout: cfg.TTS.Timeout,
	})

	factory, err := a.sttFactory()
	if err != nil {
		return nil, err
	}

	a.Bridge = bridge.New(bridge.Config{}, bridge.Deps{
		STT:          factory,
		LLM:          a.LLM,
		TTS:          speech,
		Sessions:     a.Sessions,
		Events:       a.Publisher,
		Reservations: a.Store,
	})

	// Calls expired by the sweeper never saw a stop event; their end is
	// still published.
	a.Sessions.OnExpire(func(s session.CallSession) {
		a.LLM.EndCall(s.CallID)
		_ = a.Publisher.CallEnded(context.Background(), events.CallEnded{
			CallID:     s.CallID,
			StreamID:   s.StreamID,
			Reason:     "timeout",
			DurationMs: s.Duration.Milliseconds(),
			EndedAt:    time.Now().UTC(),
		})
	})

	handlers := httpapi.NewHandlers(httpapi.Config{
		PublicURL: cfg.Service.PublicURL,
		Greeting:  cfg.Service.Greeting,
	}, a.Sessions, a.Bridge, a.Store, a.Publisher)

	a.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     httpapi.NewRouter(handlers),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	a.obsServer = observability.NewServer(
		fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		func() bool { return !a.Sessions.AtCapacity() },
	)
	return a, nil
}

func (a *Application) sttFactory() (stt.Factory, error) {
	switch a.cfg.STT.Provider {
	case "mock":
		return func(ctx context.Context) (stt.Adapter, error) {
			return mock.New(), nil
		}, nil
	case "asr":
		return asr.Factory(a.cfg.STT.ASRUrl), nil
	case "google":
		return google.Factory(), nil
	}
	return nil, fmt.Errorf("app: unknown stt provider %q", a.cfg.STT.Provider)
}

// Start begins serving. It returns immediately; errors from the listeners
// are fatal and logged.
func (a *Application) Start() {
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancelRun = cancel
	go a.Sessions.Run(runCtx)

	a.obsServer.Start()
	go func() {
		log.Info().Str("addr", a.httpServer.Addr).Msg("Starting HTTP server")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
}

// Shutdown stops serving and releases resources, bounded by the configured
// grace period.
func (a *Application) Shutdown() {
	grace := time.Duration(a.cfg.Server.ShutdownGrace) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := a.obsServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown failed")
	}
	if a.cancelRun != nil {
		a.cancelRun()
	}
	if err := a.Publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("Publisher close failed")
	}
	log.Info().Msg("Shutdown complete")
}
