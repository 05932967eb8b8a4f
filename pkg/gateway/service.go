package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"smsform/pkg/config"
	"smsform/pkg/conversation"
	"smsform/pkg/event"
)

// Dispatcher accepts normalized events for background handling.
type Dispatcher interface {
	Submit(ctx context.Context, events []event.Event) error
	Running() bool
}

// HealthChecker reports whether the reply provider is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// healthCheckTimeout bounds one provider health check.
const healthCheckTimeout = 10 * time.Second

// Service serves the SMS webhook, the conversation management routes and the
// health endpoints.
type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	store      *conversation.Store
	dispatcher Dispatcher
	health     HealthChecker
	router     chi.Router

	healthTimeout time.Duration

	mu               sync.RWMutex
	startedAt        time.Time
	providerLastOKAt time.Time
	providerLastErr  string
}

type statusResponse struct {
	Status            string `json:"status"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	ProviderLastOKAt  string `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr   string `json:"provider_last_error,omitempty"`
	DispatcherRunning bool   `json:"dispatcher_running"`
	Conversations     int    `json:"conversations"`
}

func NewService(cfg *config.Config, store *conversation.Store, dispatcher Dispatcher, health HealthChecker, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if health == nil {
		return nil, errors.New("health checker is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:        cfg,
		log:        log.With("component", "gateway.service"),
		store:      store,
		dispatcher: dispatcher,
		health:     health,

		healthTimeout: healthCheckTimeout,
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler for all routes.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until ctx ends. The provider is health-checked in the
// background at startup and then on every health interval; a failing or
// hanging provider only affects /readyz.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	interval := time.Duration(s.cfg.Provider.HealthIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = config.DefaultHealthIntervalSeconds * time.Second
	}
	go s.runHealthLoop(ctx, interval)

	addr := s.cfg.Server.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("Gateway HTTP server started", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("start http server: %w", err)
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	s.log.Info("Gateway HTTP server stopped")
	return <-serverErr
}

func (s *Service) runHealthLoop(ctx context.Context, interval time.Duration) {
	if err := s.checkProviderHealth(ctx); err != nil {
		s.log.Warn("Reply provider is not healthy yet", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkProviderHealth(ctx); err != nil {
				s.log.Warn("Reply provider health check failed", "error", err)
			}
		}
	}
}

func (s *Service) checkProviderHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.healthTimeout)
	defer cancel()

	if err := s.health.Health(ctx); err != nil {
		s.mu.Lock()
		s.providerLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("provider health check failed: %w", err)
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) isReady() bool {
	if !s.dispatcher.Running() {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.providerLastOKAt.IsZero() {
		return false
	}

	return s.providerLastErr == ""
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:            status,
		UptimeSeconds:     uptime,
		ProviderLastOKAt:  providerLastOK,
		ProviderLastErr:   s.providerLastErr,
		DispatcherRunning: s.dispatcher.Running(),
		Conversations:     s.store.Len(),
	}
}
