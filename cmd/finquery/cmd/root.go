package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"finquery/lib/configutil"
	"finquery/lib/fetchcache"
	"finquery/lib/telemetry"
	"finquery/lib/util/serviceutil"
	"finquery/lib/webclient"

	"github.com/spf13/cobra"
)

type Config struct {
	// CacheFile enables the on-disk page cache when set.
	CacheFile string `json:"cache_file"`
	// UserAgents overrides the built-in rotation pool.
	UserAgents         []string `json:"user_agents"`
	RequestsPerSecond  float64  `json:"requests_per_second"`
	Burst              int      `json:"burst"`
	BLSRegistrationKey string   `json:"bls_registration_key"`
}

var (
	verbose bool
	config  Config
	web     *webclient.Client
	cache   *fetchcache.Store
	tele    telemetry.Telemetry
)

var rootCmd = &cobra.Command{
	Use:   "finquery",
	Short: "finquery is a CLI interface for the market data clients in this module.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

func setup(ctx context.Context) error {
	telemetry.InitSlog(verbose)

	var err error
	tele, err = telemetry.SetupFromEnv(ctx, "finquery")
	if err != nil {
		return err
	}
	telemetry.InstrumentPerfStats(ctx)

	config, err = configutil.ReadConfig[Config]("finquery.json5")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	web, err = webclient.New(webclient.Options{
		UserAgents:        config.UserAgents,
		RequestsPerSecond: config.RequestsPerSecond,
		Burst:             config.Burst,
		BypassCloudflare:  true,
	})
	if err != nil {
		return err
	}

	if config.CacheFile != "" {
		cache, err = fetchcache.Open(fetchcache.Config{File: config.CacheFile})
		if err != nil {
			return err
		}
	}
	return nil
}

func teardown() {
	if cache != nil {
		if err := cache.Close(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	if err := tele.Shutdown(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

func Execute() {
	ctx := serviceutil.SignalContext()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
