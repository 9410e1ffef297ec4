package client

import (
	"log/slog"
	"net/http"

	"github.com/hyunkyoun/moira/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithOwner sets the owner id sent with every request.
func WithOwner(owner string) Option {
	return func(c *Client) { c.owner = owner }
}

// WithOwnerHeader changes the header the owner id is sent in.
func WithOwnerHeader(name string) Option {
	return func(c *Client) { c.ownerHeader = name }
}

// WithFormat sets the event stream wire format.
// Supported values: "json" (default), "msgpack".
func WithFormat(format string) Option {
	return func(c *Client) { c.format = format }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithPolling sets the strategy WaitForTerminal polls with.
func WithPolling(s backoff.Strategy) Option {
	return func(c *Client) { c.polling = s }
}

// WithReconnect sets how often and how fast Watch re-dials a dropped
// event stream. Zero retries disables reconnection.
func WithReconnect(maxRetries int, s backoff.Strategy) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.redial = s
	}
}
