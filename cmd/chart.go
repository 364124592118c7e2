package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/datum-agro/safra-cli/internal/chart"
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Print the yearly production/precipitation comparison",
	Long: `Prints the yearly comparison as JSON: total production against total
precipitation for every year both series cover. Use --crop to filter crops
by a case-insensitive substring.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		crop, _ := cmd.Flags().GetString("crop")

		svc := chart.NewService(st)
		comparison, err := svc.Compare(ctx, crop)
		if err != nil {
			return eris.Wrap(err, "chart")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(comparison)
	},
}

func init() {
	chartCmd.Flags().String("crop", "", "case-insensitive crop name substring filter")
	rootCmd.AddCommand(chartCmd)
}
