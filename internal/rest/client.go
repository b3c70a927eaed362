// Package rest implements a pantry Store over HTTP. Requests go through
// resty on a pooled retryablehttp transport with retries disabled: the
// adapter layer surfaces failures as-is and leaves retry decisions to its
// callers. An optional token-bucket limiter throttles outgoing requests.
package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/mesh-intelligence/pantry/pkg/types"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config is passed explicitly to New; nothing is read from globals.
type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 means unlimited
	UserAgent string
}

// ConfigFrom converts the store-level REST settings.
func ConfigFrom(c types.RESTConfig) Config {
	return Config{
		BaseURL:   c.BaseURL,
		Token:     c.Token,
		Timeout:   c.Timeout,
		RateLimit: c.RateLimit,
	}
}

// Store is a types.Store backed by a remote pantry-compatible HTTP API.
type Store struct {
	resty   *resty.Client
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

var _ types.Store = (*Store)(nil)

// New builds a Store for cfg.
func New(cfg Config) (*Store, error) {
	if cfg.BaseURL == "" {
		return nil, types.ErrBaseURLEmpty
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "pantry-rest/1.0"
	}

	// retryablehttp supplies the pooled transport only.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "application/json").
		SetTransport(retryClient.HTTPClient.Transport)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Store{resty: client, limiter: limiter}, nil
}

// Collection returns the adapter for name.
func (s *Store) Collection(name string) (types.Adapter, error) {
	if err := types.ValidateCollection(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.ErrStoreDetached
	}
	return &collection{name: name, store: s}, nil
}

// Close marks the store closed and releases idle connections. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if t, ok := s.resty.GetClient().Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// request waits for the limiter and returns a fresh request bound to ctx.
func (s *Store) request(ctx context.Context) (*resty.Request, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, types.ErrStoreDetached
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.resty.R().SetContext(ctx), nil
}

// errorBody is the JSON error shape of the wire contract.
type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// classify maps a response or transport error to the pantry error taxonomy.
func classify(op, collection, id string, resp *resty.Response, err error) error {
	if resp == nil || resp.RawResponse == nil {
		if err == nil {
			err = errors.New("no response")
		}
		return &types.TransportError{Op: op, Collection: collection, Err: err}
	}
	if !resp.IsError() {
		if err != nil {
			// A success status with an unreadable body.
			return &types.TransportError{Op: op, Collection: collection, Status: resp.StatusCode(), Err: err}
		}
		return nil
	}

	var body errorBody
	if e, ok := resp.Error().(*errorBody); ok && e != nil {
		body = *e
	}
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}

	switch resp.StatusCode() {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &types.ValidationError{Collection: collection, Field: body.Field, Reason: msg}
	case http.StatusNotFound:
		return &types.NotFoundError{Collection: collection, ID: id}
	default:
		return &types.TransportError{
			Op:         op,
			Collection: collection,
			Status:     resp.StatusCode(),
			Message:    msg,
			Err:        errors.New(msg),
		}
	}
}
