package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NotEmpty(t, cfg.PGDSN)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 3, cfg.ConflictRetries)
	require.Equal(t, 10*time.Second, cfg.LockTTL)
	require.Equal(t, "TRY", cfg.Currency)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("PG_DSN", "")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("PG_DSN", "postgres://localhost/ledger")
	t.Setenv("LEDGER_CONFLICT_RETRIES", "0")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("LEDGER_CONFLICT_RETRIES", "2")
	t.Setenv("LEDGER_CURRENCY", "EURO")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestInTestMode(t *testing.T) {
	t.Setenv("LEDGER_TEST_MODE", "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv("LEDGER_TEST_MODE", "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
