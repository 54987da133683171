// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/tofcal/internal/config"
)

// Server exposes the runner over HTTP and websockets.
//
//	GET /api/refspad   last committed reference SPAD data
//	GET /api/offset    last committed offset data
//	GET /api/config    effective configuration
//	GET /ws            calibration session
//	GET /ws/registers  raw register access
type Server struct {
	runner *Runner
	cfg    *config.Config
	log    *logrus.Entry
	router *gin.Engine
}

func NewServer(runner *Runner, cfg *config.Config, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{runner: runner, cfg: cfg, log: log}
	s.router = s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(s.log))
	router.GET("/api/refspad", s.getRefSPAD)
	router.GET("/api/offset", s.getOffset)
	router.GET("/api/config", s.getConfig)
	router.GET("/ws", func(c *gin.Context) { s.handleCalibrationWS(c.Writer, c.Request) })
	router.GET("/ws/registers", func(c *gin.Context) { s.handleRegisterDebugWS(c.Writer, c.Request) })

	return router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on cfg.Server.Listen until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.Listen,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("http server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func (s *Server) getRefSPAD(c *gin.Context) {
	data, ok := s.runner.Dev().RefSPADData()
	if !ok {
		c.IndentedJSON(http.StatusNotFound, "reference SPADs not characterized")
		return
	}
	c.IndentedJSON(http.StatusOK, newRefSPADView(data))
}

func (s *Server) getOffset(c *gin.Context) {
	data, ok := s.runner.Dev().OffsetData()
	if !ok {
		c.IndentedJSON(http.StatusNotFound, "offset not calibrated")
		return
	}
	c.IndentedJSON(http.StatusOK, newOffsetView(data))
}

// getConfig answers in the same YAML layout the config file uses.
func (s *Server) getConfig(c *gin.Context) {
	c.YAML(http.StatusOK, s.cfg)
}

// ginLogger logs each request through logger.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// handlers may rewrite the path
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := int(math.Ceil(float64(time.Since(start).Nanoseconds()) / 1e6))
		statusCode := c.Writer.Status()

		entry := logger.WithFields(logrus.Fields{
			"statusCode": statusCode,
			"latency":    latency,
			"method":     c.Request.Method,
			"path":       path,
		})

		if len(c.Errors) > 0 {
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
			return
		}
		msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, statusCode, latency)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(msg)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}
