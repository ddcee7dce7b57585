package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		PostgresHost:       "localhost",
		PostgresDB:         "walletcore",
		ProviderAPIURL:     "https://api.minepi.com/v2",
		ProviderTestnetKey: "testnet-key",
		ProviderMainnetKey: "mainnet-key",
		Network:            NetworkTestnet,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsUnknownNetwork(t *testing.T) {
	cfg := validConfig()
	cfg.Network = "devnet"
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresKeyForConfiguredNetwork(t *testing.T) {
	cfg := validConfig()
	cfg.ProviderTestnetKey = ""
	require.Error(t, cfg.Validate())

	// The mainnet key alone does not satisfy a testnet deployment
	cfg.ProviderMainnetKey = "mainnet-key"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.LowBalanceThreshold = decimal.NewFromInt(-1)
	require.Error(t, cfg.Validate())
}

func TestProviderAPIKeySelectsByNetwork(t *testing.T) {
	cfg := validConfig()
	require.Equal(t, "testnet-key", cfg.ProviderAPIKey())

	cfg.Network = NetworkMainnet
	require.Equal(t, "mainnet-key", cfg.ProviderAPIKey())
}

func TestLoadConfigUsesEnvOverrides(t *testing.T) {
	t.Setenv("NETWORK", NetworkMainnet)
	t.Setenv("PROVIDER_MAINNET_KEY", "env-key")
	t.Setenv("API_PORT", "7000")
	t.Setenv("LOW_BALANCE_THRESHOLD", "2.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, NetworkMainnet, cfg.Network)
	require.Equal(t, "env-key", cfg.ProviderAPIKey())
	require.Equal(t, 7000, cfg.APIPort)
	require.True(t, cfg.LowBalanceThreshold.Equal(decimal.RequireFromString("2.5")))
}
