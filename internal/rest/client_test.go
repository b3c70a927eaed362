package rest_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/pantry/internal/adaptertest"
	"github.com/mesh-intelligence/pantry/internal/memory"
	"github.com/mesh-intelligence/pantry/internal/rest"
	"github.com/mesh-intelligence/pantry/internal/server"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

func newRemote(t *testing.T, opts server.Options) *httptest.Server {
	t.Helper()
	store, err := memory.New()
	require.NoError(t, err)
	ts := httptest.NewServer(server.New(store, opts).Router())
	t.Cleanup(func() {
		ts.Close()
		_ = store.Close()
	})
	return ts
}

func newClient(t *testing.T, cfg rest.Config) *rest.Store {
	t.Helper()
	s, err := rest.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAdapterContract(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T, name string) types.Adapter {
		ts := newRemote(t, server.Options{})
		a, err := newClient(t, rest.Config{BaseURL: ts.URL}).Collection(name)
		require.NoError(t, err)
		return a
	})
}

func TestNew_Config(t *testing.T) {
	_, err := rest.New(rest.Config{})
	assert.ErrorIs(t, err, types.ErrBaseURLEmpty)

	_, err = rest.New(rest.Config{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "422 is a validation error with field",
			status: http.StatusUnprocessableEntity,
			body:   `{"error":"required","field":"name"}`,
			check: func(t *testing.T, err error) {
				var ve *types.ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, "name", ve.Field)
				assert.Equal(t, "required", ve.Reason)
			},
		},
		{
			name:   "400 is a validation error",
			status: http.StatusBadRequest,
			body:   `{"error":"bad input"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, types.ErrValidation)
			},
		},
		{
			name:   "404 is not found",
			status: http.StatusNotFound,
			body:   `{"error":"gone"}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, types.ErrNotFound)
			},
		},
		{
			name:   "500 is a transport error with status",
			status: http.StatusInternalServerError,
			body:   `{"error":"boom"}`,
			check: func(t *testing.T, err error) {
				var te *types.TransportError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, http.StatusInternalServerError, te.Status)
				assert.Equal(t, "boom", te.Message)
			},
		},
		{
			name:   "non-json error body",
			status: http.StatusBadGateway,
			body:   `upstream down`,
			check: func(t *testing.T, err error) {
				var te *types.TransportError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, http.StatusBadGateway, te.Status)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			a, err := newClient(t, rest.Config{BaseURL: ts.URL}).Collection("templates")
			require.NoError(t, err)
			_, err = a.Create(context.Background(), map[string]any{"name": "x"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestNetworkFailureIsTransport(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	a, err := newClient(t, rest.Config{BaseURL: url, Timeout: time.Second}).Collection("templates")
	require.NoError(t, err)
	_, err = a.List(context.Background())
	var te *types.TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.Status)
}

func TestNoRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	a, err := newClient(t, rest.Config{BaseURL: ts.URL}).Collection("templates")
	require.NoError(t, err)
	_, err = a.List(context.Background())
	assert.ErrorIs(t, err, types.ErrTransport)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBearerToken(t *testing.T) {
	ts := newRemote(t, server.Options{Token: "s3cret"})

	a, err := newClient(t, rest.Config{BaseURL: ts.URL}).Collection("templates")
	require.NoError(t, err)
	_, err = a.List(context.Background())
	var te *types.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnauthorized, te.Status)

	a, err = newClient(t, rest.Config{BaseURL: ts.URL, Token: "s3cret"}).Collection("templates")
	require.NoError(t, err)
	got, err := a.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClosedStore(t *testing.T) {
	ts := newRemote(t, server.Options{})
	s := newClient(t, rest.Config{BaseURL: ts.URL})
	a, err := s.Collection("templates")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Collection("templates")
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	_, err = a.List(context.Background())
	assert.ErrorIs(t, err, types.ErrTransport)
}

func TestCancelledContext(t *testing.T) {
	ts := newRemote(t, server.Options{})
	a, err := newClient(t, rest.Config{BaseURL: ts.URL}).Collection("templates")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.List(ctx)
	assert.ErrorIs(t, err, types.ErrTransport)
}

func TestEmptyIDRejected(t *testing.T) {
	ts := newRemote(t, server.Options{})
	a, err := newClient(t, rest.Config{BaseURL: ts.URL}).Collection("templates")
	require.NoError(t, err)

	_, err = a.Update(context.Background(), "", types.Patch{"a": 1})
	assert.ErrorIs(t, err, types.ErrInvalidID)
	assert.ErrorIs(t, a.Delete(context.Background(), ""), types.ErrInvalidID)
}
