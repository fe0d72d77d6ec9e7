package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
exchange:
  access_key: test-access
  secret_key: test-secret
strategies:
  - name: scalp
    markets: [KRW-BTC, KRW-ETH]
`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://api.upbit.com", cfg.Exchange.BaseURL)
	assert.Equal(t, 3.0, cfg.Trading.DefaultStopLossPct)
	assert.Equal(t, 5.0, cfg.Trading.TakeProfitPct)
	assert.Equal(t, 3, cfg.Trading.MaxConcurrentPositions)
	assert.Equal(t, 3, cfg.Trading.MaxCloseAttempts)
	assert.Equal(t, 60.0, cfg.Trading.MinConfluenceScore)
	assert.Equal(t, 70.0, cfg.Trading.MaxEntryRSI)
	assert.Equal(t, 3, cfg.Risk.MaxConsecutiveLosses)
	assert.Equal(t, 150000.0, cfg.Risk.MaxDailyLossKRW)
	assert.Equal(t, 10, cfg.Risk.MaxAPIErrorsPerMinute)
	assert.Equal(t, 10.0, cfg.Risk.MaxDrawdownPct)
	assert.Equal(t, 8080, cfg.Web.Port)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.Equal(t, time.Second, cfg.MonitorInterval())
	assert.Equal(t, 30*time.Minute, cfg.Cooldown())
	assert.Equal(t, 4*time.Hour, cfg.MaxHolding())
	assert.Equal(t, 30*time.Second, cfg.CloseWaitTimeout())
	assert.Equal(t, 5*time.Minute, cfg.CloseErrorTimeout())
	assert.Equal(t, 10*time.Minute, cfg.AbandonedRetryInterval())

	require.Len(t, cfg.Strategies, 1)
	assert.Equal(t, time.Minute, cfg.Strategies[0].ScanInterval())
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, minimalConfig+`
trading:
  default_stop_loss_pct: 2.5
  max_close_attempts: 5
risk:
  max_consecutive_losses: 4
`))
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.Trading.DefaultStopLossPct)
	assert.Equal(t, 5, cfg.Trading.MaxCloseAttempts)
	assert.Equal(t, 4, cfg.Risk.MaxConsecutiveLosses)
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"missing access key",
			"exchange:\n  secret_key: s\nstrategies:\n  - name: a\n    markets: [KRW-BTC]\n",
			"access_key",
		},
		{
			"missing secret key",
			"exchange:\n  access_key: a\nstrategies:\n  - name: a\n    markets: [KRW-BTC]\n",
			"secret_key",
		},
		{
			"no strategies",
			"exchange:\n  access_key: a\n  secret_key: s\n",
			"strategy",
		},
		{
			"strategy without markets",
			"exchange:\n  access_key: a\n  secret_key: s\nstrategies:\n  - name: a\n",
			"markets",
		},
		{
			"bad interval",
			"exchange:\n  access_key: a\n  secret_key: s\nstrategies:\n  - name: a\n    markets: [KRW-BTC]\n    interval: soon\n",
			"interval",
		},
		{
			"filter enabled without key",
			minimalConfig + "filter:\n  enabled: true\n",
			"api_key",
		},
		{
			"telegram enabled without token",
			minimalConfig + "telegram:\n  enabled: true\n",
			"bot_token",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
