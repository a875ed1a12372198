// Package api exposes the check-capsules job over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "capsule-notifier/internal/common/errors"
	"capsule-notifier/internal/common/logger"
	"capsule-notifier/internal/common/validation"
	checkcapsules "capsule-notifier/internal/workers/capsule/check-capsules"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 64 << 10

// Runner executes one check-capsules run.
type Runner interface {
	Execute(ctx context.Context, input *checkcapsules.Input) (*checkcapsules.Output, error)
}

// ReadinessCheck is a dependency checked by GET /ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	runner     Runner
	checks     []ReadinessCheck
	validator  *validation.Validator
	logger     logger.Logger
}

func NewServer(port int, runner Runner, log logger.Logger, checks ...ReadinessCheck) *Server {
	router := gin.New()
	router.Use(Recovery(log))
	router.Use(RequestLogger(log))
	router.Use(CORS())

	s := &Server{
		router:    router,
		runner:    runner,
		checks:    checks,
		validator: validation.MustNewValidator(validation.InvocationSchema),
		logger:    log,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	for _, path := range []string{"/", "/check-capsules"} {
		s.router.POST(path, s.handleRun())
		s.router.GET(path, s.handleRun())
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "capsule-notifier"})
	})
	s.router.GET("/ready", s.handleReady())
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		input := &checkcapsules.Input{}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		if len(bytes.TrimSpace(body)) > 0 {
			result, err := s.validator.Validate(body)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "request body is not valid JSON"})
				return
			}
			if !result.Valid {
				c.JSON(http.StatusBadRequest, gin.H{"error": result.Error()})
				return
			}
			if err := json.Unmarshal(body, input); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		input.Trigger = checkcapsules.TriggerHTTP

		output, err := s.runner.Execute(c.Request.Context(), input)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, output)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, checkcapsules.ErrRunInProgress):
		return http.StatusConflict
	case apperrors.CodeOf(err) == apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := gin.H{}
		ready := true
		for _, check := range s.checks {
			if err := check.Check(ctx); err != nil {
				ready = false
				status[check.Name] = err.Error()
				continue
			}
			status[check.Name] = "ok"
		}

		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": status})
	}
}
