package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsAndOverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	err := os.WriteFile(path, []byte(`
mysql_dsn: "user:pass@tcp(localhost:3306)/oof"
workers: 8
detectors:
  s2e_min_missed_usd: 50
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "user:pass@tcp(localhost:3306)/oof", cfg.MySQLDSN)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, float64(50), cfg.Detectors.S2EMinMissedUSD)
	// untouched defaults survive partial overrides
	assert.Equal(t, 100, cfg.SnapshotEveryEvents)
	assert.Equal(t, -0.30, cfg.Detectors.BHDMinDrawdown)
}

func TestLoad_MissingDSN_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`workers: 2`), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "mysql_dsn is required")
}

func TestLoad_EnvOverridesDSN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`mysql_dsn: "placeholder"`), 0o644))

	t.Setenv("MYSQL_DSN", "user:pass@tcp(db:3306)/oof")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "user:pass@tcp(db:3306)/oof", cfg.MySQLDSN)
}
