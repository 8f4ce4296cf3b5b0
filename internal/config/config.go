// Package config binds the pipeline's configuration surface via viper
// (environment + flag overlay) and cobra (flag definitions).
package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the pipeline's full configuration surface.
type Config struct {
	DatabaseURL                    string
	CometBFTURL                    string
	Interval                       time.Duration
	StartingBlockHeight            uint64
	MaxConcurrentFetches           int
	NumberOfWitnessMapRootsToCheck int
	Verbosity                      string
	MetricsAddr                    string
}

// Default returns the pipeline's documented default configuration.
func Default() *Config {
	return &Config{
		Interval:                       5 * time.Second,
		MaxConcurrentFetches:           100,
		NumberOfWitnessMapRootsToCheck: 8,
		Verbosity:                      "info",
		MetricsAddr:                    ":9090",
	}
}

// BindFlags registers the configuration surface on cmd's flag set and
// binds each flag into v, so CLI flags override environment variables
// which override the compiled-in defaults.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	d := Default()
	flags := cmd.Flags()

	flags.String("database-url", d.DatabaseURL, "PostgreSQL connection string")
	flags.String("cometbft-url", d.CometBFTURL, "CometBFT RPC endpoint")
	flags.Duration("interval", d.Interval, "loop pacing / retry interval")
	flags.Uint64("starting-block-height", 0, "lower bound for the first height if no committed state exists")
	flags.Int("max-concurrent-fetches", d.MaxConcurrentFetches, "bound on concurrent block fetches (0 means default 100)")
	flags.Int("number-of-witness-map-roots-to-check", d.NumberOfWitnessMapRootsToCheck, "sampled witness roots per validation pass (0 disables validation)")
	flags.String("verbosity", d.Verbosity, "log level")
	flags.String("metrics-addr", d.MetricsAddr, "address to serve Prometheus metrics on")

	v.BindPFlags(flags)
	v.SetEnvPrefix("MASP_INDEXER")
	v.AutomaticEnv()
}

// Load reads the bound values out of v into a Config.
func Load(v *viper.Viper) *Config {
	maxFetches := v.GetInt("max-concurrent-fetches")
	if maxFetches <= 0 {
		maxFetches = Default().MaxConcurrentFetches
	}

	return &Config{
		DatabaseURL:                    v.GetString("database-url"),
		CometBFTURL:                    v.GetString("cometbft-url"),
		Interval:                       v.GetDuration("interval"),
		StartingBlockHeight:            v.GetUint64("starting-block-height"),
		MaxConcurrentFetches:           maxFetches,
		NumberOfWitnessMapRootsToCheck: v.GetInt("number-of-witness-map-roots-to-check"),
		Verbosity:                      v.GetString("verbosity"),
		MetricsAddr:                    v.GetString("metrics-addr"),
	}
}
