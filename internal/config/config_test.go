package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	require.NoError(t, err)
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SUGGESTION_TTL_SECONDS", "0")
	t.Setenv("DENOMINATIONS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.SuggestionTTLSeconds)
	assert.Equal(t, "IDR", cfg.CurrencyCode)

	denoms, err := cfg.Denominations()
	require.NoError(t, err)
	assert.Equal(t, int64(100000), denoms[0])
	assert.Equal(t, int64(100), denoms[len(denoms)-1])
}

func TestLoadReadsConfigFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lacikas.yml")
	body := "PORT: \"9090\"\nCURRENCY_CODE: usd\nCURRENCY_SYMBOL: \"$\"\nCURRENCY_EXPONENT: 2\nDENOMINATIONS: \"1,5,10,25,100\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "USD", cfg.CurrencyCode)
	assert.Equal(t, int32(2), cfg.CurrencyExponent)

	denoms, err := cfg.Denominations()
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 25, 10, 5, 1}, denoms)
}

func TestLoadRejectsMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestDenominationsRejectsInvalidValues(t *testing.T) {
	for _, raw := range []string{"100,abc", "100,-5", "100,100", " , "} {
		_, err := Config{DenominationList: raw}.Denominations()
		assert.Error(t, err, raw)
	}
}
