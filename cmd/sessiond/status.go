package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session held in the shared token store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := config.New()
			st, release, err := openSharedStore(cmd.Context(), c, log.Logger)
			if err != nil {
				return err
			}
			defer release()

			tokens, err := st.Read(cmd.Context())
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), c, tokens, token.NewExpiryClock(c.GetLeadTime()))
			return nil
		},
	}
}

func renderStatus(out io.Writer, c config.StoreConfig, tokens *token.Set, expiry token.ExpiryClock) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Backend", "Namespace", "Session", "Expires At", "Renews At", "State"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	row := []string{c.GetStoreBackend(), c.GetNamespace(), "none", "-", "-", "-"}
	if tokens != nil {
		row[2] = "present"
		exp, err := expiry.ExpiryOf(tokens.AccessToken)
		switch {
		case err != nil:
			row[5] = "malformed"
		default:
			renewAt, _ := expiry.RenewAt(tokens.AccessToken)
			row[3] = exp.UTC().Format(time.RFC3339)
			row[4] = renewAt.UTC().Format(time.RFC3339)
			row[5] = freshness(expiry, tokens.AccessToken, exp)
		}
	}
	table.Append(row)
	table.Render()
}

func freshness(expiry token.ExpiryClock, accessToken string, exp time.Time) string {
	switch {
	case !time.Now().Before(exp):
		return "expired"
	case expiry.IsStale(accessToken):
		return "stale"
	default:
		return fmt.Sprintf("fresh (%s left)", time.Until(exp).Round(time.Second))
	}
}
