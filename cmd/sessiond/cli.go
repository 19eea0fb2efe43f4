package main

import (
	"os"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func Execute() {
	if err := createRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		os.Exit(1)
	}
}

// flagEnv maps persistent flags to the environment variables they override.
var flagEnv = map[string]string{
	"port":      "PORT",
	"store":     config.StoreBackendEnvVar,
	"namespace": config.NamespaceEnvVar,
	"redis-url": config.RedisURLEnvVar,
	"store-dir": config.StoreDirEnvVar,
	"issuer":    config.IssuerEnvVar,
	"client-id": config.ClientIDEnvVar,
	"api-url":   config.APIURLEnvVar,
	"log-level": "LOG_LEVEL",
}

func createRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sessiond",
		Short:         "Keeps an authentication session alive and shared between agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			for flag, env := range flagEnv {
				if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
					if err := os.Setenv(env, f.Value.String()); err != nil {
						return err
					}
				}
			}
			configureLogging(config.New())
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("port", "", "HTTP listen port (env PORT)")
	flags.String("store", "", "token store backend: memory, redis or file (env "+config.StoreBackendEnvVar+")")
	flags.String("namespace", "", "token store namespace (env "+config.NamespaceEnvVar+")")
	flags.String("redis-url", "", "Redis URL for the redis backend (env "+config.RedisURLEnvVar+")")
	flags.String("store-dir", "", "directory for the file backend (env "+config.StoreDirEnvVar+")")
	flags.String("issuer", "", "OIDC issuer used for discovery (env "+config.IssuerEnvVar+")")
	flags.String("client-id", "", "OIDC client id (env "+config.ClientIDEnvVar+")")
	flags.String("api-url", "", "API proxied under /api/ (env "+config.APIURLEnvVar+")")
	flags.String("log-level", "", "log level (env LOG_LEVEL)")

	rootCmd.AddCommand(
		serveCmd(),
		statusCmd(),
		logoutCmd(),
	)
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	return rootCmd
}

func configureLogging(c config.EnvConfig) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
