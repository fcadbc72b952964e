package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/wa_blast")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPListenAddr)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "sessions", cfg.SessionStoreDir)
	require.Equal(t, 60*time.Second, cfg.QRTimeout)
}

func TestLoadQRTimeout(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/wa_blast")
	t.Setenv("QR_TIMEOUT_SECONDS", "90")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.QRTimeout)

	t.Setenv("QR_TIMEOUT_SECONDS", "zero")
	_, err = Load()
	require.Error(t, err)
}
