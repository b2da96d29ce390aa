// Package gateway implements the Reclaw control-plane server: the
// WebSocket RPC surface, the HTTP sidecar endpoints and the shared
// runtime state behind both.
package gateway

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/reclaw/reclaw/internal/protocol"
)

// Server owns the echo instance and the cron engine lifecycle around a
// SharedState.
type Server struct {
	state *SharedState
	echo  *echo.Echo
	log   zerolog.Logger

	cronCancel context.CancelFunc
}

func NewServer(state *SharedState, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		state: state,
		echo:  e,
		log:   log,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler exposes the routed echo instance, mainly for in-process test
// servers.
func (s *Server) Handler() http.Handler { return s.echo }

// Start runs the gateway until SIGINT/SIGTERM, then shuts down
// gracefully.
func (s *Server) Start() error {
	cronCtx, cancel := context.WithCancel(context.Background())
	s.cronCancel = cancel
	go s.state.Cron().Run(cronCtx)

	addr := s.state.Config().BindAddr()
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	s.log.Info().Msgf("reclaw-core listening on ws://%s, auth_mode=%s, protocol=%d",
		addr, s.state.AuthModeLabel(), protocol.Version)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// If the terminal is in raw/no-ISIG mode, Ctrl+C arrives as byte
	// 0x03 on stdin instead of a signal. Catch it so the gateway can
	// still be stopped.
	manualQuit := make(chan struct{}, 1)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		go func() {
			reader := bufio.NewReader(os.Stdin)
			for {
				b, err := reader.ReadByte()
				if err != nil {
					return
				}
				if b == 3 {
					manualQuit <- struct{}{}
					return
				}
			}
		}()
	}

	select {
	case <-quit:
	case <-manualQuit:
	}

	s.log.Info().Msg("shutting down gateway")
	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return s.Shutdown(ctx)
}

// Shutdown stops the cron engine and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cronCancel != nil {
		s.cronCancel()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Msg("http request")
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())

	s.echo.Use(s.rateLimitMiddleware())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
}

func (s *Server) setupRoutes() {
	// The RPC surface answers on both / and /ws; a plain GET on /
	// returns the info document instead.
	rootHandler := func(c echo.Context) error {
		if isWebSocketUpgrade(c.Request()) {
			return s.state.handleWebSocket(c)
		}
		return c.JSON(http.StatusOK, infoPayload(s.state))
	}
	s.echo.GET("/", rootHandler)
	s.echo.GET("/ws", s.state.handleWebSocket)

	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/readyz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, readyPayload(s.state))
	})
	s.echo.GET("/info", func(c echo.Context) error {
		return c.JSON(http.StatusOK, infoPayload(s.state))
	})

	s.echo.POST("/channels/inbound", s.handleChannelInbound)
	s.echo.POST("/channels/:channel/inbound", s.handleChannelInbound)
}

func (s *Server) handleHealthz(c echo.Context) error {
	payload, err := s.state.HealthPayload()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, payload)
}

// rateLimitMiddleware throttles the HTTP sidecar per client IP. The
// WebSocket RPC surface has its own limiters and is skipped.
func (s *Server) rateLimitMiddleware() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return isWebSocketUpgrade(c.Request())
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:  rate.Limit(10),
				Burst: 20,
			},
		),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "too many requests",
			})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
		},
	})
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
