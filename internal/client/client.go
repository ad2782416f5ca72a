// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package client is the Go client for the daemon REST API. It is what
// stevectl is built on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	apierrors "github.com/stevedore-io/stevedore/internal/api/errors"
)

// DefaultHost is the daemon address used when STEVEDORE_HOST is unset.
const DefaultHost = "unix:///var/run/stevedored.sock"

// EnvHost overrides the daemon address, e.g. "tcp://10.0.0.5:2375".
const EnvHost = "STEVEDORE_HOST"

// Config configures a Client.
type Config struct {
	// Host is a daemon address: unix:///path/to.sock or tcp://host:port.
	Host string
	// Timeout bounds each request. Zero means no client-side limit;
	// long-running calls like container wait pass their own context.
	Timeout time.Duration
}

// Client talks to one daemon.
type Client struct {
	base string
	http *http.Client
}

// FromEnv builds a client from STEVEDORE_HOST, falling back to the
// default unix socket.
func FromEnv() (*Client, error) {
	host := os.Getenv(EnvHost)
	if host == "" {
		host = DefaultHost
	}
	return New(Config{Host: host})
}

// New creates a client for the given daemon address.
func New(cfg Config) (*Client, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}

	transport := &http.Transport{}
	var base string
	switch {
	case strings.HasPrefix(host, "unix://"):
		socketPath := strings.TrimPrefix(host, "unix://")
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		}
		// The host in the URL is ignored for unix sockets but must be
		// present for net/http to accept the request.
		base = "http://stevedored/v1"
	case strings.HasPrefix(host, "tcp://"):
		base = "http://" + strings.TrimPrefix(host, "tcp://") + "/v1"
	case strings.HasPrefix(host, "http://"), strings.HasPrefix(host, "https://"):
		base = strings.TrimRight(host, "/") + "/v1"
	default:
		return nil, fmt.Errorf("unsupported host %q: use unix:// or tcp://", host)
	}

	return &Client{
		base: base,
		http: &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}, nil
}

// do issues one request. A nil body sends no payload; a nil out discards
// the response body. Non-2xx responses decode into *apierrors.APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apierrors.APIError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
		}
		apiErr.Status = resp.StatusCode
		return &apiErr
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, query url.Values, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, query, body, out)
}

func (c *Client) delete(ctx context.Context, path string, query url.Values) error {
	return c.do(ctx, http.MethodDelete, path, query, nil, nil)
}
