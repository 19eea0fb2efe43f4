package config

import "github.com/jrsteele09/go-auth-session/store"

const (
	StoreBackendEnvVar = "STORE_BACKEND"
	NamespaceEnvVar    = "STORE_NAMESPACE"
	RedisURLEnvVar     = "REDIS_URL"
	StoreDirEnvVar     = "STORE_DIR"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendFile   = "file"
)

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetStoreBackend() string {
	return GetEnv(StoreBackendEnvVar, BackendMemory)
}

func (Store) GetNamespace() string {
	return GetEnv(NamespaceEnvVar, store.DefaultNamespace)
}

func (Store) GetRedisURL() string {
	return GetEnv(RedisURLEnvVar, "redis://localhost:6379/0")
}

// GetStoreDir defaults to the data folder.
func (Store) GetStoreDir() string {
	return GetEnv(StoreDirEnvVar, EnvVars{}.GetDataFolder())
}
