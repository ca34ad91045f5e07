// Package server wires the ops API onto an echo instance.
package server

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/repostdhq/repostd/internal/auth"
	"github.com/repostdhq/repostd/internal/handlers"
)

type Server struct {
	echo *echo.Echo
	addr string
}

func shouldSkipJWT(path string) bool {
	switch path {
	case "/ping", "/health", "/auth/login":
		return true
	}
	return false
}

func NewServer(addr string, jwtSecret string, pingHandler *handlers.PingHandler, authHandler *handlers.AuthHandler, accountHandler *handlers.AccountHandler, channelHandler *handlers.ChannelHandler, topicHandler *handlers.TopicHandler, statusHandler *handlers.StatusHandler) *Server {
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(auth.JWTMiddleware(jwtSecret, func(c echo.Context) bool {
		return shouldSkipJWT(c.Request().URL.Path)
	}))

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if authHandler != nil {
		authHandler.Register(e)
	}
	if accountHandler != nil {
		accountHandler.Register(e)
	}
	if channelHandler != nil {
		channelHandler.Register(e)
	}
	if topicHandler != nil {
		topicHandler.Register(e)
	}
	if statusHandler != nil {
		statusHandler.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
