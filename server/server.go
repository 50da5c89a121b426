// Package server exposes the engine and the store over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hrygo/medisense/internal/profile"
	"github.com/hrygo/medisense/internal/version"
	apiv1 "github.com/hrygo/medisense/server/router/api/v1"
	"github.com/hrygo/medisense/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	httpServer *http.Server
}

// Options carries the collaborators wired by the composition root.
type Options struct {
	Engine  apiv1.Engine
	Metrics http.Handler
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store, opts Options) (*Server, error) {
	s := &Server{
		Profile: profile,
		Store:   store,
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.RequestID())
	s.echoServer = echoServer

	echoServer.GET("/healthz", func(c echo.Context) error {
		if err := ctx.Err(); err != nil {
			return c.String(http.StatusServiceUnavailable, "Service stopping\n")
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version.String()})
	})
	if opts.Metrics != nil {
		echoServer.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	apiV1Service := apiv1.NewAPIV1Service(profile, store, opts.Engine)
	apiV1Service.Register(echoServer)

	return s, nil
}

// Handler returns the root HTTP handler, traced with otelhttp.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.echoServer, "medisense.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// Start listens on the profile address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("server: serve failed", "error", err)
		}
	}()
	slog.Info("server: listening", "address", listener.Addr().String())
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server: shutting down")
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Error("server: shutdown failed", "error", err)
		}
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("server: failed to close store", "error", err)
	}
	slog.Info("server: stopped")
}
