// Package relay notifies the remote avatar API that an avatar id was seen locally.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pawrelay/internal/avatarid"
	logx "pawrelay/pkg/logx"
)

const (
	DefaultBaseURL   = "https://paw-api.amelia.fun/"
	DefaultUserAgent = "PAW-APP/0.0.1"

	updatePath = "update"
	idParam    = "avatarId"
)

// Config configures the relay client.
//
// Timeout 0 keeps the http.Client default (no timeout).
// RatePerSec 0 disables client-side rate limiting.
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	ID     avatarid.ID
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay %s: unexpected status %d %s", e.ID, e.Status, http.StatusText(e.Status))
}

// Client posts avatar ids to the update endpoint.
type Client struct {
	http     *http.Client
	endpoint *url.URL
	ua       string
	log      logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	ep, err := endpointURL(base)
	if err != nil {
		return nil, err
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	c := &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		endpoint: ep,
		ua:       ua,
		log:      log,
	}
	c.SetRate(cfg.RatePerSec)
	return c, nil
}

func endpointURL(base string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("relay base url %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay base url %q: scheme must be http or https", base)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("relay base url %q: missing host", base)
	}
	return u.JoinPath(updatePath), nil
}

// SetRate replaces the client-side limiter. Safe during hot reload.
func (c *Client) SetRate(perSec float64) {
	var lim *rate.Limiter
	if perSec > 0 {
		burst := max(1, int(perSec))
		lim = rate.NewLimiter(rate.Limit(perSec), burst)
	}
	c.mu.Lock()
	c.limiter = lim
	c.mu.Unlock()
}

// URL returns the request URL used for id.
func (c *Client) URL(id avatarid.ID) string {
	u := *c.endpoint
	q := u.Query()
	q.Set(idParam, id.String())
	u.RawQuery = q.Encode()
	return u.String()
}

// Relay posts id and waits for the response. Only the status code matters; the
// body is drained so the connection can be reused.
func (c *Client) Relay(ctx context.Context, id avatarid.ID) error {
	c.mu.Lock()
	lim := c.limiter
	c.mu.Unlock()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("relay %s: rate limit: %w", id, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(id), http.NoBody)
	if err != nil {
		return fmt.Errorf("relay %s: %w", id, err)
	}
	req.Header.Set("User-Agent", c.ua)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s: %w", id, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		c.log.Debug("relay body drain failed", logx.String("avatar_id", id.String()), logx.Err(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{ID: id, Status: resp.StatusCode}
	}
	return nil
}

// StatusCode extracts the HTTP status from a Relay error, or 0 for transport errors.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
