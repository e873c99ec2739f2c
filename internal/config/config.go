package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DeploymentConfig represents deployments.json: the chain and the contract
// pair the booking flow talks to.
type DeploymentConfig struct {
	ChainID   int64  `json:"chainId"`
	RPCURL    string `json:"rpcUrl"`
	Deployer  string `json:"deployer"`
	Contracts struct {
		PaymentToken string `json:"PaymentToken"`
		SlotEscrow   string `json:"SlotEscrow"`
	} `json:"contracts"`
	Token struct {
		Symbol   string `json:"symbol"`
		Name     string `json:"name"`
		Decimals int    `json:"decimals"`
	} `json:"token"`
}

// AppConfig ties together deployment info and derived values.
type AppConfig struct {
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
}

type ServiceConfig struct {
	HTTPPort        int
	PostgresDSN     string
	ShutdownTimeout time.Duration
}

type ChainConfig struct {
	RPCURL              string
	PrivateKey          string
	ConfirmPollInterval time.Duration
}

const defaultDeploymentsPath = "deployments.json"

// Load aggregates configuration from disk and environment.
func Load() (*AppConfig, error) {
	deploymentsPath := envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath)

	deployCfg, err := loadDeployments(deploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}
	if deployCfg.Token.Decimals <= 0 {
		deployCfg.Token.Decimals = 18
	}

	serviceCfg := ServiceConfig{
		HTTPPort:        envOrInt("API_HTTP_PORT", 3000),
		PostgresDSN:     envOr("POSTGRES_DSN", ""),
		ShutdownTimeout: time.Duration(envOrInt("SHUTDOWN_TIMEOUT_SECONDS", 15)) * time.Second,
	}

	chainCfg := ChainConfig{
		RPCURL:              envOr("CHAIN_RPC_URL", deployCfg.RPCURL),
		PrivateKey:          envOr("CHAIN_PRIVATE_KEY", ""),
		ConfirmPollInterval: time.Duration(envOrInt("CONFIRM_POLL_MS", 2000)) * time.Millisecond,
	}

	return &AppConfig{
		Deployment: *deployCfg,
		Service:    serviceCfg,
		Chain:      chainCfg,
	}, nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
