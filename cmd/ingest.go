package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/datum-agro/safra-cli/internal/fetcher"
	"github.com/datum-agro/safra-cli/internal/ingest"
	"github.com/datum-agro/safra-cli/internal/source"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Sync upstream sources into the store",
	Long: `Sync upstream sources into the store.

By default, syncs all sources whose schedule says they are due.
Use --sources to restrict to specific sources, --years to restrict the
weather sources to specific calendar years, and --force to ignore the
schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "ingest"))

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// Ensure migrations are current.
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "ingest: migrate")
		}

		opts, err := parseIngestOpts(cmd)
		if err != nil {
			return err
		}

		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.Ingest.UserAgent,
			Timeout:    time.Duration(cfg.Nasa.TimeoutSecs) * time.Second,
			MaxRetries: 3,
		})

		reg := source.NewRegistry(cfg)
		engine := ingest.NewEngine(st, f, reg)

		log.Info("starting ingest",
			zap.Strings("sources", opts.Sources),
			zap.Ints("years", opts.Years),
			zap.Bool("force", opts.Force),
		)

		summaries, err := engine.Run(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		printSummaries(summaries)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("sources", "", "comma-separated source names (e.g., conab,inmet)")
	ingestCmd.Flags().String("years", "", "comma-separated calendar years for weather sources (e.g., 2022,2023)")
	ingestCmd.Flags().Bool("force", false, "ignore schedule and sync regardless")
	rootCmd.AddCommand(ingestCmd)
}

// parseIngestOpts extracts ingest.RunOpts from the cobra command flags.
func parseIngestOpts(cmd *cobra.Command) (ingest.RunOpts, error) {
	sourcesStr, _ := cmd.Flags().GetString("sources")
	yearsStr, _ := cmd.Flags().GetString("years")
	force, _ := cmd.Flags().GetBool("force")

	opts := ingest.RunOpts{Force: force}

	if sourcesStr != "" {
		opts.Sources = strings.Split(sourcesStr, ",")
		for i := range opts.Sources {
			opts.Sources[i] = strings.TrimSpace(opts.Sources[i])
		}
	}

	if yearsStr != "" {
		for _, part := range strings.Split(yearsStr, ",") {
			year, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return ingest.RunOpts{}, eris.Wrapf(err, "ingest: invalid year %q", part)
			}
			opts.Years = append(opts.Years, year)
		}
	}

	return opts, nil
}

func printSummaries(summaries []ingest.RunSummary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tSTATUS\tROWS\tUNIT FAILURES\tERROR")
	for _, s := range summaries {
		errMsg := ""
		if s.Error != "" {
			errMsg = truncate(s.Error, 60)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			s.Source, s.Status, s.RowsWritten, s.Failures, errMsg)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
