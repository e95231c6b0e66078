// Package server wires the command surface (C8) together: config, the
// session controller, the consistency sweep scheduler, and the gin router,
// with graceful shutdown on SIGINT/SIGTERM.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cipherpad/engine/src/config"
	"github.com/cipherpad/engine/src/scheduler"
	"github.com/cipherpad/engine/src/session"
)

// Server owns every long-lived dependency the command surface needs.
type Server struct {
	cfg    *config.Config
	logger *logrus.Logger
	sess   *session.Session
	sweep  *scheduler.SweepScheduler
	router *gin.Engine
}

// NewServer constructs a Server with a Fresh session. It does not open the
// store or start listening; call Run to do both.
func NewServer(cfg *config.Config, logger *logrus.Logger) *Server {
	sess := session.New(logger, session.Options{
		UnlockMaxAttempts: cfg.UnlockMaxAttempts,
		UnlockLockout:     cfg.UnlockLockout,
	})

	s := &Server{
		cfg:    cfg,
		logger: logger,
		sess:   sess,
		sweep:  scheduler.NewSweepScheduler(sess, logger),
	}
	s.initRouter()
	s.SetupRoutes()
	return s
}

// initRouter creates the gin engine and attaches process-wide middleware.
func (s *Server) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger(s.logger))
}

// requestLogger logs one structured line per request, the way the teacher
// logs requests through AuditLogger, scoped down to method/path/status/
// latency since cipherpad has no per-user audit trail to attach.
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request handled")
	}
}

// Run opens (or creates) the store at the configured path, starts the
// consistency sweep scheduler, and serves HTTP until SIGINT/SIGTERM.
func (s *Server) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.sess.OpenOrCreate(ctx, s.cfg.DBPath); err != nil {
		return fmt.Errorf("open cipherpad store: %w", err)
	}

	if err := s.sweep.Start("0 * * * *"); err != nil {
		return fmt.Errorf("start consistency sweep: %w", err)
	}

	httpSrv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.WithField("addr", s.cfg.ListenAddr).Info("cipherpad command surface listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("failed to start command surface")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	s.logger.Info("shutting down cipherpad command surface")
	s.sweep.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("command surface forced to shutdown")
		return err
	}

	s.logger.Info("cipherpad command surface exited")
	return nil
}

// Close releases the session's store handle, if one was opened.
func (s *Server) Close() {
	if err := s.sess.Close(); err != nil {
		s.logger.WithError(err).Warn("error closing cipherpad store")
	}
}
