package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenbridge/federator/federator/constant"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	// Both sides of the bridge are mandatory
	if cfg.MainChain == nil {
		return fmt.Errorf("mainchain configuration is required")
	}
	if cfg.SideChain == nil {
		return fmt.Errorf("sidechain configuration is required")
	}
	if err := validateChain("mainchain", cfg.MainChain); err != nil {
		return err
	}
	if err := validateChain("sidechain", cfg.SideChain); err != nil {
		return err
	}
	if cfg.MainChain.ChainID == cfg.SideChain.ChainID {
		return fmt.Errorf("mainchain and sidechain must have different chain ids")
	}

	// Set defaults for scheduling
	if cfg.RunEveryMinutes == 0 {
		cfg.RunEveryMinutes = 2
	}
	if cfg.RunHeartbeatEveryHours == 0 {
		cfg.RunHeartbeatEveryHours = 1
	}
	if cfg.RunEveryMinutes < 0 || cfg.RunHeartbeatEveryHours < 0 {
		return fmt.Errorf("run intervals must be positive")
	}

	// Set defaults for retries
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoffSeconds == 0 {
		cfg.RetryBackoffSeconds = 1
	}
	if cfg.ReceiptTimeoutSeconds == 0 {
		cfg.ReceiptTimeoutSeconds = 750
	}

	// Set defaults for endpoints
	if cfg.EndpointsPort == 0 {
		cfg.EndpointsPort = 3000
	}

	// Set defaults for storage
	if cfg.NodeHome == "" {
		cfg.NodeHome = constant.DefaultNodeHome
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = filepath.Join(cfg.NodeHome, constant.DatabaseSubdir)
	}

	return nil
}

func validateChain(side string, c *ChainConfig) error {
	if c.ChainID == 0 {
		return fmt.Errorf("%s: chain_id is required", side)
	}
	if len(c.RPCURLs) == 0 {
		return fmt.Errorf("%s: at least one rpc url is required", side)
	}
	if !common.IsHexAddress(c.Bridge) {
		return fmt.Errorf("%s: invalid bridge address %q", side, c.Bridge)
	}
	if c.Federation != "" && !common.IsHexAddress(c.Federation) {
		return fmt.Errorf("%s: invalid federation address %q", side, c.Federation)
	}
	switch c.FederationVersion {
	case "", "v1", "v2":
	default:
		return fmt.Errorf("%s: unsupported federation_version %q", side, c.FederationVersion)
	}
	if c.Name == "" {
		c.Name = side
	}
	if c.Confirmations != nil {
		conf := c.Confirmations
		if conf.Medium < conf.Small || conf.Large < conf.Medium {
			return fmt.Errorf("%s: confirmations must satisfy small <= medium <= large", side)
		}
	}
	return nil
}

// Validate applies defaults and checks the configuration.
func Validate(cfg *Config) error {
	return validateConfig(cfg)
}

// Save writes the given config to <basePath>/config/federator_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, constant.ConfigSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The signing key never lands on disk through Save.
	toWrite := *cfg
	toWrite.PrivateKey = ""

	configFile := filepath.Join(configDir, constant.ConfigFileName)
	data, err := json.MarshalIndent(&toWrite, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads, validates and returns the config from <basePath>/config/federator_config.json.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, constant.ConfigSubdir, constant.ConfigFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.NodeHome == "" {
		cfg.NodeHome = basePath
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}
