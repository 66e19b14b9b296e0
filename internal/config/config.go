// Package config loads the core's configuration from a YAML file with
// environment-variable overlays, the way the teacher's configs.LoadConfig
// parses configs/config.yml (gopkg.in/yaml.v3, os.ReadFile, wrapped errors).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the worker binary.
type Config struct {
	MySQLDSN string `yaml:"mysql_dsn"`

	Workers            int           `yaml:"workers"`
	ReaperInterval      time.Duration `yaml:"reaper_interval"`
	ReaperLeaseTimeout  time.Duration `yaml:"reaper_lease_timeout"`
	DefaultBackoff      time.Duration `yaml:"default_backoff"`
	SnapshotEveryEvents int           `yaml:"snapshot_every_events"`

	BackfillPageSize int `yaml:"backfill_page_size"`

	PriceAPIBaseURL      string        `yaml:"price_api_base_url"`
	PriceAPIKey          string        `yaml:"price_api_key"`
	PriceRefreshStale    time.Duration `yaml:"price_refresh_stale"`
	PriceBulkConcurrency int           `yaml:"price_bulk_concurrency"`
	PriceBatchSize       int           `yaml:"price_batch_size"`

	CleanupRetentionDays int `yaml:"cleanup_retention_days"`

	ObjectStoreDir string `yaml:"object_store_dir"`

	HealthAddr string `yaml:"health_addr"`

	Detectors DetectorConfig `yaml:"detectors"`
}

// DetectorConfig holds the tunable thresholds for the built-in detectors
// (spec.md §4.4).
type DetectorConfig struct {
	S2EMinMissedPct float64        `yaml:"s2e_min_missed_pct"`
	S2EMinMissedUSD float64        `yaml:"s2e_min_missed_usd"`
	BHDMinDrawdown  float64        `yaml:"bhd_min_drawdown_pct"`
	BadRouteMinPct  float64        `yaml:"bad_route_min_pct"`
	IdleYieldMinUSD float64        `yaml:"idle_yield_min_usd"`
	IdleYieldMints  []IdleYieldMint `yaml:"idle_yield_mints"`

	CustodialAddresses []string `yaml:"custodial_addresses"`
}

// IdleYieldMint configures one yield-bearing mint the IdleYield detector
// tracks (spec.md §9 open question: scoped to configured mints, possibly
// more than one — see DESIGN.md).
type IdleYieldMint struct {
	Mint              string  `yaml:"mint"`
	AnnualizedYieldPct float64 `yaml:"annualized_yield_pct"`
	LookbackDays      int     `yaml:"lookback_days"`
}

// Default returns the configuration defaults named throughout spec.md.
func Default() Config {
	return Config{
		Workers:              4,
		ReaperInterval:       30 * time.Second,
		ReaperLeaseTimeout:   5 * time.Minute,
		DefaultBackoff:       5 * time.Minute,
		SnapshotEveryEvents:  100,
		BackfillPageSize:     200,
		PriceRefreshStale:    30 * time.Minute,
		PriceBulkConcurrency: 8,
		PriceBatchSize:       50,
		CleanupRetentionDays: 90,
		ObjectStoreDir:       "./data/objects",
		HealthAddr:           ":8080",
		Detectors: DetectorConfig{
			S2EMinMissedPct: 0.25,
			S2EMinMissedUSD: 25,
			BHDMinDrawdown:  -0.30,
			BadRouteMinPct:  0.01,
			IdleYieldMinUSD: 25,
		},
	}
}

// Load reads and parses a YAML config file on top of Default(), then applies
// the MYSQL_DSN / PRICE_API_KEY environment overrides the way the teacher's
// cmd/main.go reads ENC_PK/KEY directly from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		cfg.MySQLDSN = dsn
	}
	if key := os.Getenv("PRICE_API_KEY"); key != "" {
		cfg.PriceAPIKey = key
	}

	if cfg.MySQLDSN == "" {
		return nil, fmt.Errorf("config: mysql_dsn is required (set in YAML or MYSQL_DSN env)")
	}

	return &cfg, nil
}
