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

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"abyss-chat-backend/internal/backend"
	"abyss-chat-backend/internal/chat"
	"abyss-chat-backend/internal/config"
	"abyss-chat-backend/internal/events"
	"abyss-chat-backend/internal/knowledge"
	"abyss-chat-backend/internal/logger"
	"abyss-chat-backend/internal/metrics"
	"abyss-chat-backend/internal/resolver"
	"abyss-chat-backend/internal/server"
	"abyss-chat-backend/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	widgetKB, err := loadKnowledge(cfg.WidgetKnowledgeFile, knowledge.Widget)
	if err != nil {
		return err
	}
	backendKB, err := loadKnowledge(cfg.BackendKnowledgeFile, knowledge.Backend)
	if err != nil {
		return err
	}

	m := metrics.New()
	src := resolver.NewSource(cfg.RandomSeed)
	local := resolver.New(widgetKB, src)
	dispatcher := backend.NewDispatcher(newRemote(cfg), local, cfg.RemoteTimeout, logger.Component(log, "dispatcher"), m)

	hub := events.NewHub(logger.Component(log, "events"))
	sessionLog := logger.Component(log, "session")
	timing := chat.Timing{
		ThinkMin:          cfg.ThinkMin,
		ThinkMax:          cfg.ThinkMax,
		CommandDelay:      cfg.CommandDelay,
		QuickOptionsDelay: cfg.QuickOptionsDelay,
	}
	sessions := store.NewMemoryStore(cfg.SessionTTL, func(id string) *chat.Session {
		return chat.New(id, local.Greeting(), dispatcher, chat.Options{
			Timing:      timing,
			Source:      src,
			Listener:    hub,
			MaxMessages: cfg.SessionMaxMessages,
			IsCommand:   local.IsCommand,
			Fallback:    local.Default,
			Log:         sessionLog,
			Metrics:     m,
		})
	}, m)
	sessions.OnEvict(hub.CloseSession)

	s := server.NewServer(server.Deps{
		Config:  cfg,
		Store:   sessions,
		Hub:     hub,
		Backend: resolver.New(backendKB, src),
		Metrics: m,
		Log:     logger.Component(log, "http"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.SessionTTL > 0 {
		go sessions.Run(ctx, time.Minute)
	}

	httpServer := s.NewHTTPServer(":" + cfg.Port)
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Str("remote", cfg.RemoteBackend).Msg("abyss server listening")
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func loadKnowledge(path string, builtin func() *knowledge.Base) (*knowledge.Base, error) {
	if path == "" {
		return builtin(), nil
	}
	kb, err := knowledge.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}
	return kb, nil
}

func newRemote(cfg config.Config) backend.Remote {
	switch cfg.RemoteBackend {
	case config.RemoteHTTP:
		return backend.NewHTTPRemote(cfg.RemoteBackendURL, cfg.RemoteTimeout)
	case config.RemoteOpenAI:
		return backend.NewOpenAIRemote(openai.NewClient(cfg.OpenAIAPIKey), cfg.Model, "")
	}
	return nil
}
