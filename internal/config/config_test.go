package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wrapped SOL mint, a valid 32-byte key.
const testMint = "So11111111111111111111111111111111111111112"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "solana:\n  mint_address: "+testMint+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.StartupDelay)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.TickTimeout)
	assert.Equal(t, 10*time.Second, cfg.Solana.ReconnectDelay)
	assert.Equal(t, 8, cfg.Alerting.Concurrency)
	assert.Equal(t, "", cfg.Database.DSN)
	assert.Equal(t, map[string]string{"BTC": "bitcoin", "ETH": "ethereum", "SOL": "solana"}, cfg.Oracle.Symbols)
	assert.Equal(t, "https://api.telegram.org/bot%s/%s", cfg.Telegram.APIEndpoint)
	assert.Equal(t, ":9102", cfg.Metrics.ListenAddr)
	assert.Equal(t, 8, cfg.Broadcast.Concurrency)
	assert.False(t, cfg.Broadcast.TipEnabled)
	assert.Equal(t, 7*24*time.Hour, cfg.Broadcast.TipInterval)
}

func TestLoadTipNeedsMessage(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "solana:\n  mint_address: "+testMint+"\nbroadcast:\n  tip_enabled: true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broadcast.tip_message")

	t.Setenv("MINTWATCH_BROADCAST_TIP_MESSAGE", "Tip of the week")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Broadcast.TipEnabled)
	assert.Equal(t, "Tip of the week", cfg.Broadcast.TipMessage)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "solana:\n  mint_address: "+testMint+"\n")
	t.Setenv("MINTWATCH_SCHEDULER_INTERVAL", "5s")
	t.Setenv("MINTWATCH_TELEGRAM_CHAT_ID", "-100123")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, int64(-100123), cfg.Telegram.ChatID)
}

func TestLoadRejectsBadMint(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "solana:\n  mint_address: not-a-key\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "solana.mint_address")
}

func TestLoadSolanaDisabledSkipsMint(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "solana:\n  enabled: false\n")

	_, err := Load(path)
	require.NoError(t, err)
}

func TestValidateMintAddress(t *testing.T) {
	assert.NoError(t, ValidateMintAddress(testMint))
	assert.Error(t, ValidateMintAddress(""))
	assert.Error(t, ValidateMintAddress("0OIl"), "characters outside the base58 alphabet")
	assert.Error(t, ValidateMintAddress("3mJr7AoUXx2Wqd"), "too short")
}

func TestValidateTelegramNeedsToken(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "solana:\n  enabled: false\ntelegram:\n  enabled: true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot_token")
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 100}}
	assert.Equal(t, 100, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 5, cfg.ResolveMaxPoints(5))
}
