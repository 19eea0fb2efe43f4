package config

import "time"

type Config interface {
	EnvConfig
	CorsConfig
	SessionConfig
	StoreConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetLogLevel() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

// SessionConfig locates the identity provider and API, and sets the renewal policy.
type SessionConfig interface {
	GetLeadTime() time.Duration
	GetHTTPTimeout() time.Duration
	GetIssuer() string
	GetClientID() string
	GetRefreshURL() string
	GetEndSessionURL() string
	GetPostLogoutRedirectURI() string
	GetAPIURL() string
	GetIdentityURL() string
}

// StoreConfig selects the shared token store.
type StoreConfig interface {
	GetStoreBackend() string
	GetNamespace() string
	GetRedisURL() string
	GetStoreDir() string
}

type mainConfig struct {
	EnvVars
	Cors
	Session
	Store
}

func New() Config {
	return mainConfig{}
}
