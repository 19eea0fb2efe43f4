package server

// Route path constants
const (
	RouteCallback = "/auth-callback"
	RouteLogout   = "/logout"
	RouteSession  = "/session"
	RouteHealth   = "/healthz"
	RouteMetrics  = "/metrics"

	// RouteAPI is proxied to the configured API with the session's bearer token attached.
	RouteAPI = "/api/"
)
