package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func validConfig() Config {
	cfg := Defaults()
	cfg.Ledger.ContractAddress = testContract
	cfg.Wallet.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	return cfg
}

func TestDefaultsNeedContractAndWallet(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger: contract_address")
	assert.Contains(t, err.Error(), "wallet: either private_key or encrypted_key_path")

	valid := validConfig()
	assert.NoError(t, valid.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.LogLevel = "verbose"
	cfg.FundX.APIKey = "key-only"
	cfg.Registry.PollInterval = duration{}
	cfg.Ledger.ChainID = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "verbose"`,
		"fundx: api_key and api_secret must be set together",
		"registry: poll_interval must be > 0",
		"ledger: chain_id must be positive",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidatePurchaseMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "purchase"
	cfg.Purchase.Phase = "phase3"
	cfg.Purchase.MaxPrice = "cheap"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `purchase: phase must be phase1 or phase2, got "phase3"`)
	assert.Contains(t, err.Error(), `purchase: max_price "cheap" is not a decimal`)
}

func TestValidateWatchModeNeedsTrader(t *testing.T) {
	cfg := Defaults()
	cfg.Ledger.ContractAddress = testContract
	cfg.Mode = "watch"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry: trader address or a wallet key is required")

	cfg.Registry.Trader = "0x00000000000000000000000000000000000000aa"
	assert.NoError(t, cfg.Validate())
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fundx.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "full"

[ledger]
contract_address = "`+testContract+`"
confirmations = 3
receipt_poll_interval = "500ms"

[registry]
poll_interval = "2s"
`), 0o600))

	t.Setenv("FUNDX_LEDGER_CONFIRMATIONS", "5")
	t.Setenv("FUNDX_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("FUNDX_REGISTRY_POLL_INTERVAL", "not-a-duration")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 5, cfg.Ledger.Confirmations)
	assert.Equal(t, 500*time.Millisecond, cfg.Ledger.ReceiptPollInterval.Duration)
	assert.Equal(t, 2*time.Second, cfg.Registry.PollInterval.Duration, "invalid env values are ignored")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int64(998), cfg.Ledger.ChainID)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.FundX.APISecret = "s3cret"
	cfg.Redis.Password = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.FundX.APISecret)
	assert.Equal(t, "", out.Redis.Password)
	assert.Equal(t, testContract, out.Ledger.ContractAddress)

	out.Server.CORSOrigins[0] = "mutated"
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
}
