package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sendcode_nexus/internal/remote"
	"sendcode_nexus/internal/remote/telegram"
	"sendcode_nexus/internal/service/web"
	"sendcode_nexus/internal/shared/logger"
	"sendcode_nexus/internal/shared/types"
	"sendcode_nexus/proxypool"
	"sendcode_nexus/proxypool/model"
	"sendcode_nexus/proxypool/storage"
	"sendcode_nexus/proxypool/trial"
)

const shutdownTimeout = 10 * time.Second

// AppServer wires the batch manager to the remote connector and the web front-end.
type AppServer struct {
	cfg      *types.Config
	sessions *remote.SessionStore
	manager  *manager.Manager
	hub      *web.Hub
	server   *web.Server

	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

// New creates an AppServer that reaches the remote service through the
// MTProto connector.
func New(cfg *types.Config) *AppServer {
	sessions := remote.NewSessionStore()
	connector := telegram.NewConnector(
		cfg.TelegramConf.APIID,
		cfg.TelegramConf.APIHash,
		sessions,
		logger.NewZap("telegram"),
	)
	return NewWithConnector(cfg, connector, sessions)
}

// NewWithConnector creates an AppServer around any remote.Connector.
func NewWithConnector(cfg *types.Config, connector remote.Connector, sessions *remote.SessionStore) *AppServer {
	if sessions == nil {
		sessions = remote.NewSessionStore()
	}
	s := &AppServer{
		cfg:      cfg,
		sessions: sessions,
		hub:      web.NewHub(),
	}

	engine := trial.NewEngine(connector, trial.Settings{
		ConnectTimeout:     cfg.TrialConf.ConnectTimeout,
		AuthCheckTimeout:   cfg.TrialConf.AuthCheckTimeout,
		SendTimeout:        cfg.TrialConf.SendTimeout,
		CheckAuthorization: cfg.CommonConf.Mode == types.ModeBatch,
	})
	successStore := storage.NewSuccessStore(cfg.FilesConf.OkProxiesFile)
	s.manager = manager.NewManager(cfg, successStore, engine, s.hub)
	s.server = web.NewServer(cfg, s.manager, s.hub)

	return s
}

// Manager exposes the batch manager.
func (s *AppServer) Manager() *manager.Manager {
	return s.manager
}

// Run starts the hub and the web server, then blocks until ctx is done.
func (s *AppServer) Run(ctx context.Context) error {
	logger.Info().
		Str("mode", s.cfg.CommonConf.Mode).
		Str("proxies_file", s.cfg.FilesConf.ProxiesFile).
		Int("concurrency", s.cfg.TrialConf.ConcurrencyLimit).
		Msg("Starting server...")

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		s.hub.Run()
	}()

	if err := s.server.Start(&s.waitGroup); err != nil {
		s.Stop()
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")
	s.Stop()
	return nil
}

// RunOnce runs a single batch for phone and returns its aggregate.
func (s *AppServer) RunOnce(ctx context.Context, phone string) (*model.AggregateResult, error) {
	result, err := s.manager.Dispatch(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("batch for %s failed: %w", phone, err)
	}
	return result, nil
}

// Stop gracefully shuts down the web server and the hub, then waits for them.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("Web server shutdown did not complete cleanly.")
		}
		s.hub.Stop()
		s.waitGroup.Wait()
		logger.Info().Int("sessions", s.sessions.Len()).Msg("Server stopped.")
	})
}
