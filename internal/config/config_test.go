package config

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/portscanner/internal/logger"
)

func TestDefaultMatchesOriginalCLIDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "21,22,23,25,53,80,110,143,443,445,3306,3389,5432,6379,8080,8443,9200,27017", cfg.Scan.Ports)
	assert.Equal(t, 500, cfg.Scan.TimeoutMS)
	assert.Equal(t, 100, cfg.Scan.Concurrency)
	assert.True(t, cfg.Scan.LoopMode)
	assert.True(t, cfg.Scan.SkipPrivate)
	assert.Equal(t, "connect", cfg.Scan.ProbeMode)
	assert.Equal(t, 10000, cfg.RateLimit.MaxRate)
}

func TestLoadAppliesFlagOverrides(t *testing.T) {
	cfg, err := Load(context.Background(), []string{"-start-ip", "10.0.0.1", "-ports", "22,80", "-concurrency", "50"}, logger.NewTestLogger())
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.Scan.StartIP)
	assert.Equal(t, "22,80", cfg.Scan.Ports)
	assert.Equal(t, 50, cfg.Scan.Concurrency)
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("SCAN_SCAN_CONCURRENCY", "250")

	cfg, err := Load(context.Background(), nil, logger.NewTestLogger())
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Scan.Concurrency)
}

func TestEnvLoaderBuildsNestedPrefixedName(t *testing.T) {
	t.Setenv("SCAN_RATE_LIMIT_MAX_RATE", "42")

	cfg := Default()
	loader := NewEnvLoader(logger.NewTestLogger(), "SCAN_")
	require.NoError(t, loader.Load(context.Background(), "", cfg))

	assert.Equal(t, 42, cfg.RateLimit.MaxRate)
}

func TestEnvLoaderRejectsNonPointerDst(t *testing.T) {
	loader := NewEnvLoader(logger.NewTestLogger(), "SCAN_")

	err := loader.Load(context.Background(), "", ScanConfig{})
	assert.ErrorIs(t, err, ErrDstMustBeNonNilPointer)
}

func TestFileLoaderReadsTOML(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.toml")
	require.NoError(t, err)

	_, err = f.WriteString("[scan]\nstart_ip = \"192.0.2.1\"\nports = \"443\"\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg := Default()
	loader := &FileLoader{Logger: logger.NewTestLogger()}
	require.NoError(t, loader.Load(context.Background(), f.Name(), cfg))

	assert.Equal(t, "192.0.2.1", cfg.Scan.StartIP)
	assert.Equal(t, "443", cfg.Scan.Ports)
}

func TestLoadFilePrecedesEnv(t *testing.T) {
	t.Setenv("SCAN_SCAN_CONCURRENCY", "250")
	t.Setenv("SCAN_SCAN_PORTS", "9999")

	f, err := os.CreateTemp(t.TempDir(), "cfg-*.toml")
	require.NoError(t, err)

	_, err = f.WriteString("[scan]\nconcurrency = 75\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(context.Background(), []string{"-config", f.Name()}, logger.NewTestLogger())
	require.NoError(t, err)

	assert.Equal(t, 75, cfg.Scan.Concurrency, "file value must win over the environment value")
	assert.Equal(t, "9999", cfg.Scan.Ports, "env value still applies where the file is silent")
}
