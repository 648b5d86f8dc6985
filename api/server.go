package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isdmx/funcbox/config"
	"github.com/isdmx/funcbox/engine"
	"github.com/isdmx/funcbox/function"
	"github.com/isdmx/funcbox/metrics"
	"github.com/isdmx/funcbox/pool"
)

// Server is the HTTP API for the execution engine
type Server struct {
	logger     *zap.Logger
	cfg        *config.Config
	dispatcher *engine.Dispatcher
	store      *function.Store
	collector  *metrics.Collector
	pool       *pool.Pool
	registry   *prometheus.Registry

	httpServer *http.Server
}

// New creates the API server and builds its routes
func New(logger *zap.Logger, cfg *config.Config, dispatcher *engine.Dispatcher, store *function.Store,
	collector *metrics.Collector, p *pool.Pool, registry *prometheus.Registry) *Server {
	s := &Server{
		logger:     logger,
		cfg:        cfg,
		dispatcher: dispatcher,
		store:      store,
		collector:  collector,
		pool:       p,
		registry:   registry,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/execute", s.handleExecute)
		v1.POST("/functions", s.handleSaveFunction)
		v1.GET("/functions", s.handleListFunctions)
		v1.GET("/functions/:id", s.handleGetFunction)
		v1.DELETE("/functions/:id", s.handleDeleteFunction)
		v1.POST("/functions/:id/execute", s.handleExecuteStored)
		v1.GET("/metrics", s.handleMetricsSnapshot)
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: router,
	}

	return s
}

// Router returns the HTTP handler, used by tests
func (s *Server) Router() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in a background goroutine
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting HTTP API", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP API server stopped", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// executeRequest is the body of POST /api/v1/execute
type executeRequest struct {
	Code       string          `json:"code" binding:"required"`
	Handler    string          `json:"handler"`
	Language   string          `json:"language" binding:"required"`
	Input      json.RawMessage `json:"input"`
	TimeoutSec int             `json:"timeout"`
	MemoryMB   int             `json:"memory"`
}

func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	handler := req.Handler
	if handler == "" {
		handler = "handler"
	}

	sig := function.Signature{
		Language: req.Language,
		Handler:  handler,
		Code:     req.Code,
		Limits: function.Limits{
			TimeoutSec: req.TimeoutSec,
			MemoryMB:   req.MemoryMB,
		}.WithDefaults(),
	}
	if err := sig.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := s.dispatcher.Execute(c.Request.Context(), engine.ExecutionRequest{
		Signature: sig,
		Input:     req.Input,
	})
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSaveFunction(c *gin.Context) {
	var def function.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	saved, err := s.store.Save(def)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleListFunctions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"functions": s.store.List()})
}

func (s *Server) handleGetFunction(c *gin.Context) {
	def, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "function not found"})
		return
	}
	c.JSON(http.StatusOK, def)
}

func (s *Server) handleDeleteFunction(c *gin.Context) {
	if !s.store.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "function not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "function deleted"})
}

func (s *Server) handleExecuteStored(c *gin.Context) {
	def, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "function not found"})
		return
	}

	var input json.RawMessage
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "input must be a JSON value"})
			return
		}
	}

	result := s.dispatcher.Execute(c.Request.Context(), engine.ExecutionRequest{
		Signature: def.Signature(),
		Input:     input,
	})
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleMetricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics": s.collector.Snapshot(),
		"pool":    s.pool.Stats(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
