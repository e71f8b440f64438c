package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/order-engine/internal/platform/storage"
	"github.com/hanko-field/order-engine/internal/services"
)

const defaultCommandTimeout = 20 * time.Second

// ArchiveLinker issues download links for archived order snapshots.
type ArchiveLinker interface {
	SignedDownloadURL(orderID string, version int64, expiresIn time.Duration) (storage.SignedURLResult, error)
}

type orderHandlerConfig struct {
	online             services.OnlinePaymentService
	archive            ArchiveLinker
	streams            *StreamHandlers
	commandTimeout     time.Duration
	commandMiddlewares []func(http.Handler) http.Handler
}

// OrderHandlerOption customises customer and admin order handlers.
type OrderHandlerOption func(*orderHandlerConfig)

func newOrderHandlerConfig(opts []OrderHandlerOption) orderHandlerConfig {
	cfg := orderHandlerConfig{commandTimeout: defaultCommandTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithOnlinePayments enables the online payment and refund endpoints.
func WithOnlinePayments(svc services.OnlinePaymentService) OrderHandlerOption {
	return func(cfg *orderHandlerConfig) {
		cfg.online = svc
	}
}

// WithArchiveLinker enables archive download links.
func WithArchiveLinker(linker ArchiveLinker) OrderHandlerOption {
	return func(cfg *orderHandlerConfig) {
		cfg.archive = linker
	}
}

// WithStreams enables the patch stream endpoints.
func WithStreams(streams *StreamHandlers) OrderHandlerOption {
	return func(cfg *orderHandlerConfig) {
		cfg.streams = streams
	}
}

// WithCommandTimeout bounds every non-stream request.
func WithCommandTimeout(timeout time.Duration) OrderHandlerOption {
	return func(cfg *orderHandlerConfig) {
		if timeout > 0 {
			cfg.commandTimeout = timeout
		}
	}
}

// WithCommandMiddlewares wraps mutating endpoints, typically with idempotency replay.
func WithCommandMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlerOption {
	return func(cfg *orderHandlerConfig) {
		cfg.commandMiddlewares = append(cfg.commandMiddlewares, mw...)
	}
}

// commandGroup registers routes that run under the request timeout and the
// command middlewares.
func (cfg orderHandlerConfig) commandGroup(r chi.Router, register func(chi.Router)) {
	r.Group(func(group chi.Router) {
		group.Use(middleware.Timeout(cfg.commandTimeout))
		for _, mw := range cfg.commandMiddlewares {
			if mw != nil {
				group.Use(mw)
			}
		}
		register(group)
	})
}
