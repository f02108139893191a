package cmd

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"finquery/api/crypto"
	"finquery/lib/tabular"

	"github.com/spf13/cobra"
)

var (
	cryptoExchange string
	cryptoBase     string
	cryptoQuote    string
	cryptoLimit    int
	cryptoType     string
	cryptoStart    string
	cryptoEnd      string
)

func init() {
	rootCmd.AddCommand(cryptoCmd)
	cryptoCmd.AddCommand(cryptoLatestCmd)
	cryptoCmd.AddCommand(cryptoHistoryCmd)

	cryptoLatestCmd.Flags().StringVar(&cryptoExchange, "exchange", "", "only pairs trading on this exchange")
	cryptoLatestCmd.Flags().StringVar(&cryptoBase, "base", "", "only pairs with this base currency symbol")
	cryptoLatestCmd.Flags().StringVar(&cryptoQuote, "quote", "", "only pairs with this quote currency symbol")
	cryptoLatestCmd.Flags().IntVar(&cryptoLimit, "limit", 100, "maximum number of pairs")
	cryptoLatestCmd.Flags().StringVar(&cryptoType, "type", "all", "exchange type: all, cex or dex")

	cryptoHistoryCmd.Flags().StringVar(&cryptoStart, "start", "", "start date, YYYY-MM-DD")
	cryptoHistoryCmd.Flags().StringVar(&cryptoEnd, "end", "", "end date, YYYY-MM-DD")
}

var cryptoCmd = &cobra.Command{
	Use:   "crypto",
	Short: "Live and historical crypto market data.",
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

var cryptoLatestCmd = &cobra.Command{
	Use:   "latest <slug>",
	Short: "Print the live market pairs of an asset.",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "incorrect number of arguments")
			os.Exit(1)
		}

		client := crypto.NewClient(crypto.Options{Client: web})
		pairs, err := client.Latest(cmd.Context(), crypto.LatestQuery{
			Slug:         args[0],
			BaseSymbol:   cryptoBase,
			QuoteSymbol:  cryptoQuote,
			Exchange:     cryptoExchange,
			Limit:        cryptoLimit,
			ExchangeType: cryptoType,
		})
		if err != nil {
			log.Fatal(err)
		}

		table := tabular.New("Exchange", "Pair", "Category", "Price", "Volume USD", "Type", "Last Updated")
		for _, pair := range pairs {
			table.Append(
				pair.ExchangeName,
				pair.MarketPair,
				pair.Category,
				formatFloat(pair.Price),
				formatFloat(pair.VolumeUSD),
				pair.ExchangeType,
				pair.LastUpdated.Format(time.RFC3339),
			)
		}
		table.Render(os.Stdout)
	},
}

var cryptoHistoryCmd = &cobra.Command{
	Use:   "history <slug>",
	Short: "Print the daily price history of an asset.",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "incorrect number of arguments")
			os.Exit(1)
		}

		start, err := time.Parse(time.DateOnly, cryptoStart)
		if err != nil {
			log.Fatal(err)
		}
		end, err := time.Parse(time.DateOnly, cryptoEnd)
		if err != nil {
			log.Fatal(err)
		}

		client := crypto.NewClient(crypto.Options{Client: web})
		rows, err := client.Historical(cmd.Context(), crypto.HistoricalQuery{
			Slug:  args[0],
			Start: start,
			End:   end,
		})
		if err != nil {
			log.Fatal(err)
		}

		table := tabular.New("Date", "Open", "High", "Low", "Close", "Volume", "Market Cap")
		for _, row := range rows {
			table.Append(
				row.TimeOpen.Format(time.DateOnly),
				formatFloat(row.Open),
				formatFloat(row.High),
				formatFloat(row.Low),
				formatFloat(row.Close),
				formatFloat(row.Volume),
				formatFloat(row.MarketCap),
			)
		}
		table.Render(os.Stdout)
	},
}
