// Package server exposes a types.Store over HTTP using the wire contract the
// rest backend consumes. It lets a local sqlite or memory store act as the
// remote end of another pantry instance.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/pantry/internal/rest"
	"github.com/mesh-intelligence/pantry/pkg/types"
)

// Options configures the HTTP server.
type Options struct {
	Logger   *zap.Logger
	Token    string              // when set, requests must carry "Bearer <Token>"
	Gatherer prometheus.Gatherer // when set, served at /metrics
}

// Server routes HTTP requests to a types.Store.
type Server struct {
	store  types.Store
	opts   Options
	logger *zap.Logger
}

// New creates a Server for store.
func New(store types.Store, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, opts: opts, logger: logger}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1/collections/:collection", s.authorize())
	v1.GET("/entities", s.list)
	v1.POST("/entities", s.create)
	v1.PATCH("/entities/:id", s.update)
	v1.DELETE("/entities/:id", s.delete)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) list(c *gin.Context) {
	a, ok := s.adapter(c)
	if !ok {
		return
	}
	entities, err := a.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rest.ListResponse{Entities: entities})
}

func (s *Server) create(c *gin.Context) {
	a, ok := s.adapter(c)
	if !ok {
		return
	}
	var body rest.CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body: " + err.Error()})
		return
	}
	e, err := a.Create(c.Request.Context(), body.Attributes)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (s *Server) update(c *gin.Context) {
	a, ok := s.adapter(c)
	if !ok {
		return
	}
	var body rest.UpdateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body: " + err.Error()})
		return
	}
	e, err := a.Update(c.Request.Context(), c.Param("id"), body.Patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) delete(c *gin.Context) {
	a, ok := s.adapter(c)
	if !ok {
		return
	}
	if err := a.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) adapter(c *gin.Context) (types.Adapter, bool) {
	a, err := s.store.Collection(c.Param("collection"))
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return a, true
}

// fail writes the wire error for err.
func (s *Server) fail(c *gin.Context, err error) {
	var ve *types.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ve.Reason, "field": ve.Field})
	case errors.Is(err, types.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrInvalidCollection), errors.Is(err, types.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, types.ErrStoreDetached):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.logger.Error("store operation failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Token == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
