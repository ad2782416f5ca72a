// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package dispatcher delivers task work to the node that owns it. The
// local dispatcher executes against the in-process container service;
// the NATS dispatcher forwards assignments to remote worker agents.
package dispatcher

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// ClientConfig holds NATS connection configuration.
type ClientConfig struct {
	// URL is the NATS server URL (e.g. "nats://localhost:4222").
	URL string
	// Name identifies this client on the server.
	Name string
	// Token authenticates when set; otherwise Username/Password.
	Token    string
	Username string
	Password string
	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config
	// MaxReconnects is -1 for infinite.
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:            nats.DefaultURL,
		Name:           "stevedored",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Client wraps a NATS connection with reconnect logging.
type Client struct {
	config ClientConfig
	logger *logger.Logger

	mu   sync.RWMutex
	conn *nats.Conn
}

// NewClient creates a disconnected client.
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{config: config, logger: log.Named("nats")}
}

// Connect establishes the connection. Safe to call twice.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}

	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.Timeout(c.config.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				c.logger.Error("nats error", "subject", sub.Subject, "error", err)
			} else {
				c.logger.Error("nats error", "error", err)
			}
		}),
	}
	if c.config.Token != "" {
		opts = append(opts, nats.Token(c.config.Token))
	} else if c.config.Username != "" {
		opts = append(opts, nats.UserInfo(c.config.Username, c.config.Password))
	}
	if c.config.TLSConfig != nil {
		opts = append(opts, nats.Secure(c.config.TLSConfig))
	}

	conn, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	c.conn = conn
	c.logger.Info("connected to nats", "url", conn.ConnectedUrl())
	return nil
}

// Close drains and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// IsConnected reports connection health.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Request sends a request and waits for the reply.
func (c *Client) Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	return conn.Request(subject, data, timeout)
}

// QueueSubscribe subscribes with a queue group.
func (c *Client) QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	return conn.QueueSubscribe(subject, queue, handler)
}
