package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	// Login callback; POST covers the form_post response mode
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.PageMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.PageMiddleware()...))

	s.RegisterRouteHandler("GET "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.PageMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.PageMiddleware()...))

	s.RegisterRouteHandler("GET "+RouteSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.apiTarget != nil {
		proxy := http.StripPrefix(strings.TrimSuffix(RouteAPI, "/"), s.APIProxy(s.apiTarget))
		s.RegisterRouteHandler(RouteAPI, ChainMiddleware(proxy.ServeHTTP, s.APIMiddleware()...))
	}
}

func (s *Server) logError(method, path, message string) {
	s.logger.Error().Msgf("[%-19s] %s %s", colourMethod(method), path, Red+message+ResetColor)
}
