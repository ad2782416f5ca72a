// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package handlers

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPollPeriod = time.Second
)

// WebSocketHandler streams daemon events over a websocket connection.
type WebSocketHandler struct {
	BaseHandler
	events   EventStreamer
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new websocket handler.
func NewWebSocketHandler(events EventStreamer, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		BaseHandler: NewBaseHandler(log),
		events:      events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     isAllowedWebSocketOrigin,
		},
	}
}

// Events handles GET /events/ws?since=<RFC3339>. New events are pushed as
// JSON messages until the client disconnects. The store is polled rather
// than subscribed: every emitter already writes through the event
// repository, so the poll sees writes from all daemon components.
func (h *WebSocketHandler) Events(w http.ResponseWriter, r *http.Request) {
	since := time.Now()
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.BadRequest(w, "invalid since: expected RFC3339 timestamp")
			return
		}
		since = t
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Read pump: discard inbound messages, detect close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(wsPollPeriod)
	defer poll.Stop()
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			events, err := h.events.ListSince(r.Context(), since, 256)
			if err != nil {
				h.logger.Error("event poll failed", "error", err)
				continue
			}
			for _, ev := range events {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
				if ev.Time.After(since) {
					since = ev.Time
				}
			}
			// The store query is inclusive at the cutoff; step past the
			// newest delivered event so it is not re-sent.
			if len(events) > 0 {
				since = since.Add(time.Nanosecond)
			}
		}
	}
}

// isAllowedWebSocketOrigin permits same-host browser connections and all
// non-browser clients (no Origin header).
func isAllowedWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	serverHost := r.Host
	if host, _, err := net.SplitHostPort(r.Host); err == nil {
		serverHost = host
	}
	if strings.EqualFold(u.Hostname(), serverHost) {
		return true
	}

	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		if host, _, err := net.SplitHostPort(fwd); err == nil {
			fwd = host
		}
		if strings.EqualFold(u.Hostname(), fwd) {
			return true
		}
	}
	return false
}
