package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	restartDelay    = time.Second
	shutdownTimeout = 5 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session agent and its HTTP surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			for {
				err := run(ctx)
				if err == nil || ctx.Err() != nil {
					break
				}
				if !errors.Is(err, errPanicRecovered) {
					return err
				}
				log.Error().Err(err).Dur("delay", restartDelay).Msg("Restarting session agent")
				time.Sleep(restartDelay)
			}
			log.Info().Msg("Server stopped")
			return nil
		},
	}
}

var errPanicRecovered = errors.New("panic recovered")

func run(ctx context.Context) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errPanicRecovered
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	a, err := newAgent(ctx, c, log.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing token store")
		}
	}()
	if err := a.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("supervisor.Start: %w", err)
	}

	srv := &http.Server{Addr: c.GetPort(), Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listenAndServe(srv)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}
	return shutdown(srv)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
