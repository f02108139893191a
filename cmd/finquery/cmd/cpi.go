package cmd

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"finquery/api/cpi"
	"finquery/lib/tabular"

	"github.com/spf13/cobra"
)

var cpiMonth string

func init() {
	rootCmd.AddCommand(cpiCmd)
	cpiCmd.AddCommand(cpiSeriesCmd)
	cpiCmd.AddCommand(cpiAdjustCmd)
	cpiCmd.AddCommand(cpiChangeCmd)

	cpiAdjustCmd.Flags().StringVar(&cpiMonth, "month",
		"", "use one month's index instead of annual averages, e.g. June")
}

var cpiCmd = &cobra.Command{
	Use:   "cpi",
	Short: "Consumer price index series and purchasing power.",
}

func cpiClient() *cpi.Client {
	return cpi.NewClient(cpi.Options{
		Client:          web,
		Cache:           cache,
		RegistrationKey: config.BLSRegistrationKey,
	})
}

func parseMonth(name string) (time.Month, error) {
	for month := time.January; month <= time.December; month++ {
		if strings.EqualFold(month.String(), name) || strings.EqualFold(month.String()[:3], name) {
			return month, nil
		}
	}
	return 0, fmt.Errorf("%q is not a month", name)
}

var cpiSeriesCmd = &cobra.Command{
	Use:   "series <start year> <end year>",
	Short: "Print the monthly index values over a year range.",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "incorrect number of arguments")
			os.Exit(1)
		}
		startYear, err := strconv.Atoi(args[0])
		if err != nil {
			log.Fatal(err)
		}
		endYear, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal(err)
		}

		series, err := cpiClient().Fetch(cmd.Context(), startYear, endYear)
		if err != nil {
			log.Fatal(err)
		}

		columns := []string{"Year"}
		for month := time.January; month <= time.December; month++ {
			columns = append(columns, month.String()[:3])
		}
		columns = append(columns, "Annual")

		table := tabular.New(columns...)
		for _, year := range series.Years() {
			row := []string{strconv.Itoa(year)}
			for month := time.January; month <= time.December; month++ {
				value, ok := series.Value(year, month)
				if !ok {
					row = append(row, "")
					continue
				}
				row = append(row, strconv.FormatFloat(value, 'f', 1, 64))
			}
			average, _ := series.AnnualAverage(year)
			row = append(row, strconv.FormatFloat(average, 'f', 1, 64))
			table.Append(row...)
		}
		table.Render(os.Stdout)
	},
}

var cpiAdjustCmd = &cobra.Command{
	Use:   "adjust <amount> <from year> <to year>",
	Short: "Convert an amount between two years' dollars.",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "incorrect number of arguments")
			os.Exit(1)
		}
		amount, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			log.Fatal(err)
		}
		fromYear, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal(err)
		}
		toYear, err := strconv.Atoi(args[2])
		if err != nil {
			log.Fatal(err)
		}

		calculator, err := cpiClient().Calculator(
			cmd.Context(), min(fromYear, toYear), max(fromYear, toYear))
		if err != nil {
			log.Fatal(err)
		}

		var adjusted float64
		if cpiMonth == "" {
			adjusted, err = calculator.AdjustAnnual(amount, fromYear, toYear)
		} else {
			var month time.Month
			month, err = parseMonth(cpiMonth)
			if err != nil {
				log.Fatal(err)
			}
			adjusted, err = calculator.Adjust(amount, fromYear, toYear, month)
		}
		if err != nil {
			log.Fatal(err)
		}

		fmt.Printf("$%.2f from %d is equivalent to $%.2f in %d.\n", amount, fromYear, adjusted, toYear)
	},
}

var cpiChangeCmd = &cobra.Command{
	Use:   "change <from year> <to year>",
	Short: "Print the index's percent change between two years.",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "incorrect number of arguments")
			os.Exit(1)
		}
		fromYear, err := strconv.Atoi(args[0])
		if err != nil {
			log.Fatal(err)
		}
		toYear, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal(err)
		}

		calculator, err := cpiClient().Calculator(
			cmd.Context(), min(fromYear, toYear), max(fromYear, toYear))
		if err != nil {
			log.Fatal(err)
		}

		change, err := calculator.Change(fromYear, toYear)
		if err != nil {
			log.Fatal(err)
		}

		fmt.Printf("The index moved %+.2f%% from %d to %d.\n", change, fromYear, toYear)
	},
}
