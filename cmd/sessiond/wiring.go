package main

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/idp"
	"github.com/jrsteele09/go-auth-session/internal/config"
	apperrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/server"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/store"
	"github.com/jrsteele09/go-auth-session/store/filestore"
	"github.com/jrsteele09/go-auth-session/store/memory"
	"github.com/jrsteele09/go-auth-session/store/redisstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// openStore opens this process's handle on the configured namespace. The returned func
// releases it.
func openStore(ctx context.Context, c config.StoreConfig, logger zerolog.Logger) (store.Store, func() error, error) {
	noop := func() error { return nil }

	switch backend := c.GetStoreBackend(); backend {
	case config.BackendMemory:
		return memory.NewNamespace().Open(), noop, nil
	case config.BackendRedis:
		s, err := redisstore.Dial(ctx, c.GetRedisURL(), c.GetNamespace(), redisstore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendFile:
		s, err := filestore.New(c.GetStoreDir(), c.GetNamespace(), filestore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	default:
		return nil, nil, apperrors.Wrapf(apperrors.ErrUnsupported, "store backend %q", backend)
	}
}

// openSharedStore is openStore for commands that act on sessions held by other processes. A
// memory namespace lives only inside the process that created it.
func openSharedStore(ctx context.Context, c config.StoreConfig, logger zerolog.Logger) (store.Store, func() error, error) {
	if backend := c.GetStoreBackend(); backend == config.BackendMemory {
		return nil, nil, apperrors.Wrapf(apperrors.ErrUnsupported, "store backend %q is not shared between processes", backend)
	}
	return openStore(ctx, c, logger)
}

// identityProvider returns the refresher and end-session builder, from OIDC discovery when an
// issuer is configured and from the fixed URLs otherwise.
func identityProvider(ctx context.Context, c config.SessionConfig, httpClient *http.Client, logger zerolog.Logger) (session.Refresher, session.EndSessioner, error) {
	opts := []idp.ClientOption{idp.WithHTTPClient(httpClient), idp.WithLogger(logger)}

	if issuer := c.GetIssuer(); issuer != "" {
		if c.GetClientID() == "" {
			return nil, nil, apperrors.Wrapf(apperrors.ErrNotConfigured, "%s is required with %s", config.ClientIDEnvVar, config.IssuerEnvVar)
		}
		d, err := idp.Discover(ctx, issuer, c.GetClientID(), c.GetPostLogoutRedirectURI(), opts...)
		if err != nil {
			return nil, nil, err
		}
		return d.Refresher, d.Client, nil
	}

	client := idp.NewClient(c.GetRefreshURL(), c.GetEndSessionURL(), c.GetPostLogoutRedirectURI(), opts...)
	return client, client, nil
}

// agent is one running session agent and its HTTP surface.
type agent struct {
	supervisor *session.Supervisor
	handler    http.Handler
	release    func() error
}

func newAgent(ctx context.Context, c config.Config, logger zerolog.Logger) (*agent, error) {
	st, release, err := openStore(ctx, c, logger)
	if err != nil {
		return nil, apperrors.Wrapf(err, "open token store")
	}

	httpClient := &http.Client{Timeout: c.GetHTTPTimeout()}
	refresher, endSession, err := identityProvider(ctx, c, httpClient, logger)
	if err != nil {
		_ = release()
		return nil, apperrors.Wrapf(err, "identity provider")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	supervisor := session.New(st, refresher,
		session.WithLogger(logger),
		session.WithLeadTime(c.GetLeadTime()),
		session.WithMetrics(session.NewMetrics(reg)),
		session.WithEndSession(endSession),
	)
	gate := auth.NewGate(supervisor, auth.WithLogger(logger), auth.WithTimeout(c.GetHTTPTimeout()))
	if endpoint := c.GetIdentityURL(); endpoint != "" {
		supervisor.SetIdentityChecker(identity.NewClient(endpoint, gate.Client(), identity.WithLogger(logger)))
	}

	handler, err := server.New(c, supervisor, gate, server.WithLogger(logger), server.WithGatherer(reg))
	if err != nil {
		supervisor.Close()
		_ = release()
		return nil, err
	}
	return &agent{supervisor: supervisor, handler: handler, release: release}, nil
}

func (a *agent) Close() error {
	a.supervisor.Close()
	return a.release()
}
