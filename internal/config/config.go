package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Network names a Solana cluster
type Network string

const (
	NetworkDevnet      Network = "devnet"
	NetworkTestnet     Network = "testnet"
	NetworkMainnetBeta Network = "mainnet-beta"
)

// Networks lists every supported cluster
var Networks = []Network{NetworkDevnet, NetworkTestnet, NetworkMainnetBeta}

// Valid reports whether n is a supported cluster
func (n Network) Valid() bool {
	for _, known := range Networks {
		if n == known {
			return true
		}
	}
	return false
}

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Solana   SolanaConfig
	Signer   SignerConfig
	Tokens   TokensConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// SolanaConfig selects the cluster and escrow program
type SolanaConfig struct {
	Network        Network
	ProgramIDs     map[Network]string
	RPCEndpoints   map[Network]string
	ConfirmTimeout time.Duration
	SkipPreflight  bool
}

// ProgramID returns the escrow program id for the active network
func (c SolanaConfig) ProgramID() string {
	return c.ProgramIDs[c.Network]
}

// RPCEndpoint returns the RPC URL for the active network
func (c SolanaConfig) RPCEndpoint() string {
	return c.RPCEndpoints[c.Network]
}

// SignerConfig locates the keypair the service signs with
type SignerConfig struct {
	KeypairPath string // solana-keygen JSON file
	PrivateKey  string // base58 secret key, used when KeypairPath is empty
}

// TokensConfig points at an optional YAML file extending the token registry
type TokensConfig struct {
	RegistryPath string
	Overrides    map[Network][]TokenEntry
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	Concurrency       int
	QueueSize         int
	ReconcileInterval time.Duration
	ReconcileMaxAge   time.Duration
}

// LoadConfig loads configuration from environment variables, reading a
// .env file first if one is present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	network := Network(getEnv("SOLANA_NETWORK", string(NetworkDevnet)))

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "escrow_service"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Solana: SolanaConfig{
			Network: network,
			ProgramIDs: map[Network]string{
				NetworkDevnet:      getEnv("ESCROW_PROGRAM_ID_DEVNET", "11111111111111111111111111111112"),
				NetworkTestnet:     getEnv("ESCROW_PROGRAM_ID_TESTNET", "11111111111111111111111111111111"),
				NetworkMainnetBeta: getEnv("ESCROW_PROGRAM_ID_MAINNET", "11111111111111111111111111111111"),
			},
			RPCEndpoints: map[Network]string{
				NetworkDevnet:      getEnv("SOLANA_RPC_DEVNET", "https://api.devnet.solana.com"),
				NetworkTestnet:     getEnv("SOLANA_RPC_TESTNET", "https://api.testnet.solana.com"),
				NetworkMainnetBeta: getEnv("SOLANA_RPC_MAINNET", "https://api.mainnet-beta.solana.com"),
			},
			ConfirmTimeout: getEnvDuration("CONFIRM_TIMEOUT", 90*time.Second),
			SkipPreflight:  getEnvBool("SKIP_PREFLIGHT", false),
		},
		Signer: SignerConfig{
			KeypairPath: getEnv("SIGNER_KEYPAIR_PATH", ""),
			PrivateKey:  getEnv("SIGNER_PRIVATE_KEY", ""),
		},
		Tokens: TokensConfig{
			RegistryPath: getEnv("TOKEN_REGISTRY_PATH", ""),
		},
		Worker: WorkerConfig{
			Concurrency:       getEnvInt("WORKER_CONCURRENCY", 4),
			QueueSize:         getEnvInt("WORKER_QUEUE_SIZE", 64),
			ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
			ReconcileMaxAge:   getEnvDuration("RECONCILE_MAX_AGE", 10*time.Minute),
		},
	}

	// SOLANA_RPC_ENDPOINT overrides the default for the active network
	if rpc := getEnv("SOLANA_RPC_ENDPOINT", ""); rpc != "" {
		cfg.Solana.RPCEndpoints[network] = rpc
	}

	if cfg.Tokens.RegistryPath != "" {
		overrides, err := LoadTokenOverrides(cfg.Tokens.RegistryPath)
		if err != nil {
			return nil, err
		}
		cfg.Tokens.Overrides = overrides
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if !c.Solana.Network.Valid() {
		return fmt.Errorf("unsupported network: %q", c.Solana.Network)
	}

	if c.Solana.ProgramID() == "" {
		return fmt.Errorf("escrow program id is required for %s", c.Solana.Network)
	}

	if c.Solana.RPCEndpoint() == "" {
		return fmt.Errorf("RPC endpoint is required for %s", c.Solana.Network)
	}

	if c.Solana.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm timeout must be positive")
	}

	if c.Signer.KeypairPath == "" && c.Signer.PrivateKey == "" {
		return fmt.Errorf("SIGNER_KEYPAIR_PATH or SIGNER_PRIVATE_KEY is required")
	}

	if c.Worker.Concurrency <= 0 || c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker concurrency and queue size must be positive")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
