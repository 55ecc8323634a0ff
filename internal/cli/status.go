package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/epiflight/internal/server"
)

func buildStatusCommand() *cobra.Command {
	var (
		addr    string
		code    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running simulation",
		Long:  "Query the gRPC Observatory of a simulation started with server.enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := server.Dial(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if code != "" {
				cs, err := client.Country(ctx, code)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				printCountryRow(w, cs.Code, cs.Counts, cs.Population)
				return nil
			}

			st, err := client.Status(ctx)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "Observatory address")
	cmd.Flags().StringVar(&code, "country", "", "show a single country by code")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	return cmd
}
