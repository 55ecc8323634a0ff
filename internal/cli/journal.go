package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/epiflight/internal/journal"
)

func buildJournalCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect an event journal",
	}
	cmd.PersistentFlags().StringVarP(&file, "file", "f", "", "journal file path (required)")
	_ = cmd.MarkPersistentFlagRequired("file")

	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Aggregate flights, reductions and days",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := journal.Summarize(file)
			if err != nil {
				return err
			}
			return journal.WriteSummary(cmd.OutOrStdout(), s)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print every event",
		RunE: func(cmd *cobra.Command, args []string) error {
			return journal.Dump(file, cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Check every record's checksum",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := journal.Verify(file); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", file)
			return nil
		},
	})

	return cmd
}
