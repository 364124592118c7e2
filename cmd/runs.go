package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/datum-agro/safra-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the ingest run log",
	Long:  "Displays the run history for all sources, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListRuns(ctx)
		if err != nil {
			return eris.Wrap(err, "runs")
		}

		if len(entries) == 0 {
			zap.L().Info("no runs recorded, run 'ingest' to start syncing sources")
			return nil
		}

		asYAML, _ := cmd.Flags().GetBool("yaml")
		if asYAML {
			return yaml.NewEncoder(os.Stdout).Encode(entries)
		}

		formatRunEntries(os.Stdout, entries)
		return nil
	},
}

func init() {
	runsCmd.Flags().Bool("yaml", false, "emit the run log as YAML")
	rootCmd.AddCommand(runsCmd)
}

// formatRunEntries writes a tabular representation of run entries to w.
func formatRunEntries(out io.Writer, entries []store.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tSTARTED\tDURATION\tROWS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t-------\t--------\t----\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			d := e.CompletedAt.Sub(e.StartedAt).Round(time.Second)
			dur = d.String()
		}

		errMsg := ""
		if e.Error != "" {
			errMsg = truncate(e.Error, 60)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(e.ID),
			e.Source,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.RowsWritten,
			errMsg,
		)
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
