package common

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagValidator(t *testing.T) {
	v := NewFlagValidator().
		ValidatePositive("equity", 1000).
		ValidateNonNegative("atr", 0).
		ValidateInt("decimals", 3, 0, 18)
	assert.False(t, v.HasErrors())
	assert.NoError(t, v.GetError())

	v = NewFlagValidator().
		ValidatePositive("price", 0).
		ValidateRequired("symbol", " ")
	require.True(t, v.HasErrors())
	err := v.GetError()
	assert.Contains(t, err.Error(), "price must be positive")
	assert.Contains(t, err.Error(), "symbol is required")
}

func TestFlagValidator_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("limits: {}\n"), 0644))

	assert.False(t, NewFlagValidator().ValidateFile("risk-file", path, true).HasErrors())
	assert.True(t, NewFlagValidator().ValidateFile("risk-file", filepath.Join(dir, "missing.yaml"), true).HasErrors())
	assert.True(t, NewFlagValidator().ValidateFile("risk-file", "", true).HasErrors())
	assert.False(t, NewFlagValidator().ValidateFile("risk-file", "", false).HasErrors())
}

func TestLoadEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("DIA_HTTP_ADDR=127.0.0.1:19108\n"), 0644))
	prev, had := os.LookupEnv("DIA_HTTP_ADDR")
	require.NoError(t, os.Unsetenv("DIA_HTTP_ADDR"))
	t.Cleanup(func() {
		if had {
			os.Setenv("DIA_HTTP_ADDR", prev)
		} else {
			os.Unsetenv("DIA_HTTP_ADDR")
		}
	})

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := RegisterCommonFlags(fs)
	require.NoError(t, fs.Parse([]string{"-env", envFile, "-risk-file", "custom.yaml", "-verbose"}))

	cfg, err := LoadEnvironment(flags)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:19108", cfg.HTTP.Addr)
	assert.Equal(t, "custom.yaml", cfg.RiskFile)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadEnvironment_MissingEnvFile(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := RegisterCommonFlags(fs)
	require.NoError(t, fs.Parse([]string{"-env", filepath.Join(t.TempDir(), "absent.env")}))

	_, err := LoadEnvironment(flags)
	assert.NoError(t, err)
}

func TestUsageAndVersion(t *testing.T) {
	fs := flag.NewFlagSet("riskctl", flag.ContinueOnError)
	RegisterCommonFlags(fs)

	var buf bytes.Buffer
	NewUsageFormatter("riskctl", "risk tooling").
		AddExample("riskctl check", "Validate the risk file").
		PrintUsage(&buf, fs)
	assert.Contains(t, buf.String(), "riskctl - risk tooling")
	assert.Contains(t, buf.String(), "riskctl check")
	assert.Contains(t, buf.String(), "-risk-file")

	buf.Reset()
	PrintVersion(&buf, "riskctl")
	assert.Contains(t, buf.String(), "riskctl v"+ProjectVersion)
}
