package cmd

import (
	"log"
	"os"

	"finquery/api/treasury"

	"github.com/spf13/cobra"
)

var (
	treasuryPeriod string
	treasuryFull   bool
)

func init() {
	rootCmd.AddCommand(treasuryCmd)
	treasuryCmd.AddCommand(treasuryBillsCmd)
	treasuryCmd.AddCommand(treasuryYieldsCmd)
	treasuryCmd.AddCommand(treasuryAllCmd)

	treasuryCmd.PersistentFlags().StringVar(&treasuryPeriod, "period",
		"", "period to fetch: YYYYMM, YYYY, CY, or empty for the current month")
	treasuryBillsCmd.Flags().BoolVar(&treasuryFull, "full", false, "keep every scraped column")
	treasuryYieldsCmd.Flags().BoolVar(&treasuryFull, "full", false, "keep every scraped column")
}

var treasuryCmd = &cobra.Command{
	Use:   "treasury",
	Short: "Daily treasury rate tables.",
}

func treasuryClient() *treasury.Client {
	return treasury.NewClient(treasury.Options{
		Client: web,
		Cache:  cache,
	})
}

var treasuryBillsCmd = &cobra.Command{
	Use:   "bills",
	Short: "Print the daily treasury bill rates.",
	Run: func(cmd *cobra.Command, args []string) {
		table, err := treasuryClient().BillRates(cmd.Context(), treasuryPeriod, treasuryFull)
		if err != nil {
			log.Fatal(err)
		}
		table.Render(os.Stdout)
	},
}

var treasuryYieldsCmd = &cobra.Command{
	Use:   "yields",
	Short: "Print the daily par yield curve rates.",
	Run: func(cmd *cobra.Command, args []string) {
		table, err := treasuryClient().ParYields(cmd.Context(), treasuryPeriod, treasuryFull)
		if err != nil {
			log.Fatal(err)
		}
		table.Render(os.Stdout)
	},
}

var treasuryAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Print the full yield curve, month maturities included.",
	Run: func(cmd *cobra.Command, args []string) {
		table, err := treasuryClient().AllYields(cmd.Context(), treasuryPeriod)
		if err != nil {
			log.Fatal(err)
		}
		table.Render(os.Stdout)
	},
}
