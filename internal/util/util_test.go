package util

import (
	"bytes"
	"crypto/tls"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_ConsoleAndFile(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	dir := t.TempDir()
	var console bytes.Buffer

	require.NoError(t, InitLogger(LogConfig{
		Level:      "info",
		Directory:  dir,
		MaxBackups: 5,
		Console:    true,
		Out:        &console,
	}))

	logger := ComponentLogger("session")
	logger.Info().Msg("authenticated")
	log.Debug().Msg("hidden")

	assert.Contains(t, console.String(), "authenticated")
	assert.Contains(t, console.String(), "component=session")
	assert.NotContains(t, console.String(), "hidden")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"session"`)
}

func TestInitLogger_BadLevelFallsBackToWarn(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	require.NoError(t, InitLogger(LogConfig{Level: "chatty", Out: &bytes.Buffer{}, Console: true}))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"rcon_2024-01-01.log", "rcon_2024-01-02.log", "rcon_2024-01-03.log", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	cleanOldLogs(dir, 2)

	assert.NoFileExists(t, filepath.Join(dir, "rcon_2024-01-01.log"))
	assert.FileExists(t, filepath.Join(dir, "rcon_2024-01-02.log"))
	assert.FileExists(t, filepath.Join(dir, "rcon_2024-01-03.log"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestEnsureTLSCertificate(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "tls", "gateway.crt")
	key := filepath.Join(dir, "tls", "gateway.key")

	generated, err := EnsureTLSCertificate(cert, key, []string{"127.0.0.1", "localhost"})
	require.NoError(t, err)
	assert.True(t, generated)

	pair, err := tls.LoadX509KeyPair(cert, key)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.Certificate)

	generated, err = EnsureTLSCertificate(cert, key, nil)
	require.NoError(t, err)
	assert.False(t, generated)
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	assert.Equal(t, runtime.GOOS, info.Platform)
	assert.Positive(t, info.CPUCores)
	assert.NotEmpty(t, info.Architecture)
}

func TestMemoryUsage_String(t *testing.T) {
	u := MemoryUsage{Total: 2048, Used: 512, UsedPercent: 25}
	assert.Equal(t, "512/2048 MB (25.0%)", u.String())
}
