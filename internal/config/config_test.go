package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidateServer checks required fields and format validations for the server role.
func TestValidateServer(t *testing.T) {
	t.Parallel()

	// Missing listen address.
	cfg := new(Config)

	err := ValidateServer(cfg)
	require.ErrorIs(t, err, ErrListenAddressRequired)

	// Bad listen address.
	cfg = &Config{
		ListenAddress: "bad:address",
		AuthSecret:    "s3cret",
	}

	err = ValidateServer(cfg)
	require.Error(t, err)

	// Missing secret.
	cfg = &Config{
		ListenAddress: "127.0.0.1:0",
	}

	err = ValidateServer(cfg)
	require.ErrorIs(t, err, ErrAuthSecretRequired)

	// Okay.
	cfg = &Config{
		ListenAddress: "127.0.0.1:0",
		AuthSecret:    "s3cret",
	}

	err = ValidateServer(cfg)
	require.NoError(t, err)
}

// TestValidateAgent checks required fields and format validations for the agent role.
func TestValidateAgent(t *testing.T) {
	t.Parallel()

	// Missing URL.
	err := ValidateAgent(new(Config))
	require.ErrorIs(t, err, ErrServerURLRequired)

	// Wrong scheme.
	cfg := &Config{
		ServerURL: "https://sync.local/ws",
		Token:     "token",
	}

	err = ValidateAgent(cfg)
	require.Error(t, err)

	// Missing token.
	cfg = &Config{
		ServerURL: "wss://sync.local/ws",
	}

	err = ValidateAgent(cfg)
	require.ErrorIs(t, err, ErrTokenRequired)

	// Bad timezone.
	cfg = &Config{
		ServerURL: "wss://sync.local/ws",
		Token:     "token",
		Timezone:  "Atlantis/Nowhere",
	}

	err = ValidateAgent(cfg)
	require.Error(t, err)

	// Okay.
	cfg = &Config{
		ServerURL: "ws://sync.local/ws",
		Token:     "token",
		Timezone:  "Europe/Berlin",
	}

	err = ValidateAgent(cfg)
	require.NoError(t, err)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back with defaults applied.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := &Config{
		ListenAddress: "127.0.0.1:8765",
		AuthSecret:    "s3cret",
		ServerURL:     "ws://127.0.0.1:8765/ws",
		Token:         "token",
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.ListenAddress, loaded.ListenAddress)
	require.Equal(t, cfg.ServerURL, loaded.ServerURL)

	// Defaults filled in.
	require.Equal(t, DefaultTimeout, loaded.Timeout)
	require.Equal(t, DefaultAlarmsFilename, loaded.AlarmsFile)
	require.Equal(t, DefaultMaxAlarmDuration, loaded.MaxAlarmDuration)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}
