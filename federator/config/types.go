package config

import "time"

type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	NodeHome    string `json:"node_home"`    // Node home directory (default: ~/.federator)
	StoragePath string `json:"storage_path"` // Directory of the federator database (default: <node_home>/db)

	// Chains
	MainChain *ChainConfig `json:"mainchain"`
	SideChain *ChainConfig `json:"sidechain"`

	// Signing key of the federator account, hex encoded. Usually supplied via FEDERATOR_KEY.
	PrivateKey string `json:"private_key,omitempty"`

	// Scheduling
	RunEveryMinutes        int `json:"run_every_minutes"`         // Cross-transfer cycle interval (default: 2)
	RunHeartbeatEveryHours int `json:"run_heartbeat_every_hours"` // Heartbeat interval (default: 1)

	// Retry Config
	MaxRetries            int `json:"max_retries"`             // Attempts per RPC call (default: 3)
	RetryBackoffSeconds   int `json:"retry_backoff_seconds"`   // Initial backoff (default: 1)
	ReceiptTimeoutSeconds int `json:"receipt_timeout_seconds"` // Wait for a vote receipt (default: 750)

	// Contract version detection. When set, an undetectable version aborts startup.
	StrictVersionDetection bool `json:"strict_version_detection"`

	// Endpoints
	EndpointsPort int `json:"endpoints_port"` // Port of /isAlive and /metrics (default: 3000)

	// Tracing. Empty disables the exporter.
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
}

// ChainConfig describes one side of the bridge.
type ChainConfig struct {
	Name    string   `json:"name"`     // Human readable name used in logs
	ChainID uint64   `json:"chain_id"` // EVM chain id, verified against the node
	RPCURLs []string `json:"rpc_urls"` // RPC endpoints, used round-robin on failure

	Bridge     string `json:"bridge"`               // Bridge contract address
	Federation string `json:"federation,omitempty"` // Federation contract, resolved from the bridge when empty

	// FederationVersion pins the federation adapter ("v1" or "v2") and skips detection.
	FederationVersion string `json:"federation_version,omitempty"`

	FromBlock   uint64 `json:"from_block"`    // First block to scan when no cursor is stored
	BlockTimeMs int    `json:"block_time_ms"` // Average block time, used for receipt polling

	// Confirmations overrides the tiers reported by the bridge contract.
	Confirmations *ConfirmationsConfig `json:"confirmations,omitempty"`
}

// ConfirmationsConfig overrides the confirmation tiers of a chain.
type ConfirmationsConfig struct {
	Small  uint64 `json:"small"`
	Medium uint64 `json:"medium"`
	Large  uint64 `json:"large"`
}

// RunEvery returns the cross-transfer cycle interval.
func (c *Config) RunEvery() time.Duration {
	return time.Duration(c.RunEveryMinutes) * time.Minute
}

// HeartbeatEvery returns the heartbeat interval.
func (c *Config) HeartbeatEvery() time.Duration {
	return time.Duration(c.RunHeartbeatEveryHours) * time.Hour
}

// RetryBackoff returns the initial retry delay.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// ReceiptTimeout returns how long a vote submission waits to be mined.
func (c *Config) ReceiptTimeout() time.Duration {
	return time.Duration(c.ReceiptTimeoutSeconds) * time.Second
}

// BlockTime returns the average block time, falling back to 15s.
func (c *ChainConfig) BlockTime() time.Duration {
	if c.BlockTimeMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.BlockTimeMs) * time.Millisecond
}
