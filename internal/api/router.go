// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stevedore-io/stevedore/internal/api/handlers"
	"github.com/stevedore-io/stevedore/internal/api/middleware"
	"github.com/stevedore-io/stevedore/internal/observability"
)

// RouterConfig contains configuration for setting up routes.
type RouterConfig struct {
	// RequestTimeout bounds API requests, including container wait: a
	// wait longer than this returns a timeout and the client retries.
	RequestTimeout time.Duration

	// Logger for request logging. Nil disables the logging middleware.
	Logger middleware.RequestLogger

	// Collector records request metrics. Nil disables metrics capture.
	Collector *observability.Collector

	// MetricsEnabled controls whether the /metrics endpoint is registered.
	MetricsEnabled bool

	// MetricsPath is the Prometheus scrape path (default "/metrics").
	MetricsPath string
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RequestTimeout: 60 * time.Second,
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	}
}

// Handlers contains all API handlers. Nil fields skip the corresponding
// routes.
type Handlers struct {
	System    *handlers.SystemHandler
	WebSocket *handlers.WebSocketHandler
	Container *handlers.ContainerHandler
	Image     *handlers.ImageHandler
	Volume    *handlers.VolumeHandler
	Network   *handlers.NetworkHandler
	Service   *handlers.ServiceHandler
	Swarm     *handlers.SwarmHandler
	Prune     *handlers.PruneHandler
}

// NewRouter creates a new chi router with all routes configured.
func NewRouter(config RouterConfig, h *Handlers) chi.Router {
	r := chi.NewRouter()

	// Request ID first so logging and recovery carry it.
	r.Use(middleware.RequestID)

	if config.Logger != nil {
		r.Use(middleware.Logging(config.Logger))
	}
	r.Use(middleware.Recovery(config.Logger))

	if config.Collector != nil {
		r.Use(middleware.Metrics(config.Collector, func(req *http.Request) string {
			if rctx := chi.RouteContext(req.Context()); rctx != nil {
				return rctx.RoutePattern()
			}
			return ""
		}))
	}

	if h.System != nil {
		r.Get("/health", h.System.Health)
	}

	if config.MetricsEnabled {
		path := config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		// chimiddleware.Timeout wraps the ResponseWriter and drops
		// http.Hijacker, so websocket and long-poll routes mount outside
		// this group.
		r.Group(func(r chi.Router) {
			if config.RequestTimeout > 0 {
				r.Use(chimiddleware.Timeout(config.RequestTimeout))
			}

			if h.Container != nil {
				r.Mount("/containers", h.Container.Routes())
			}
			if h.Image != nil {
				r.Mount("/images", h.Image.Routes())
			}
			if h.Volume != nil {
				r.Mount("/volumes", h.Volume.Routes())
			}
			if h.Network != nil {
				r.Mount("/networks", h.Network.Routes())
			}
			if h.Service != nil {
				r.Mount("/services", h.Service.Routes())
			}
			if h.Swarm != nil {
				r.Mount("/swarm", h.Swarm.Routes())
				r.Mount("/nodes", h.Swarm.NodeRoutes())
			}
			r.Route("/system", func(r chi.Router) {
				if h.System != nil {
					r.Get("/info", h.System.Info)
					r.Get("/version", h.System.Version)
					r.Get("/df", h.System.DiskUsage)
					r.Get("/events", h.System.Events)
				}
				if h.Prune != nil {
					r.Post("/prune", h.Prune.System)
				}
			})
		})

		if h.WebSocket != nil {
			r.Get("/events/ws", h.WebSocket.Events)
		}
	})

	return r
}
