package main

import (
	"fmt"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the shared token store, signing every running agent out",
		Long: "Clear the shared token store, signing every running agent out.\n" +
			"Only the redis and file backends are shared between processes.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := config.New()
			st, release, err := openSharedStore(cmd.Context(), c, log.Logger)
			if err != nil {
				return err
			}
			defer release()

			if err := st.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared namespace %q (%s)\n", c.GetNamespace(), c.GetStoreBackend())
			return nil
		},
	}
}
