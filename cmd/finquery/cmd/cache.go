package cmd

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var cachePruneOlderThan time.Duration

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cachePruneCmd)

	cachePruneCmd.Flags().DurationVar(&cachePruneOlderThan, "older-than",
		30*24*time.Hour, "delete entries fetched longer ago than this")
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the on-disk page cache.",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cache entries older than a cutoff.",
	Run: func(cmd *cobra.Command, args []string) {
		if cache == nil {
			fmt.Fprintln(os.Stderr, "no cache_file configured")
			os.Exit(1)
		}

		removed, err := cache.Prune(cmd.Context(), cachePruneOlderThan)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Removed %d entries.\n", removed)
	},
}
