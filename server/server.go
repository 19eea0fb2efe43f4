// Package server is the sessiond HTTP surface: the login callback, logout, the session view,
// metrics and an API reverse proxy whose requests all pass through the authorization gate.
package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/config"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

type Server struct {
	env        string // Environment (e.g., "DEV", "PROD")
	mux        *http.ServeMux
	routes     []string
	config     config.Config
	supervisor *session.Supervisor
	gate       *auth.Gate
	apiTarget  *url.URL
	gatherer   prometheus.Gatherer
	logger     zerolog.Logger
}

func New(c config.Config, supervisor *session.Supervisor, gate *auth.Gate, opts ...Option) (*Server, error) {
	s := &Server{
		env:        c.GetEnv(),
		mux:        http.NewServeMux(),
		config:     c,
		supervisor: supervisor,
		gate:       gate,
		gatherer:   prometheus.DefaultGatherer,
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if raw := c.GetAPIURL(); raw != "" {
		target, err := url.Parse(raw)
		if err != nil {
			return nil, apperrors.Wrapf(err, "[Server New] invalid API URL %q", raw)
		}
		if target.Scheme == "" || target.Host == "" {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "[Server New] API URL %q is not absolute", raw)
		}
		s.apiTarget = target
	}

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Routes lists the registered patterns in registration order.
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	s.logger.Info().Msgf("[%-19s] %s", colourMethod(method), path)
}

func colourMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if colour, ok := methodColors[method]; ok {
		return colour + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}
