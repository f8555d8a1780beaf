package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPollInterval is the fixed refresh period shared by every updater.
const DefaultPollInterval = 5000 * time.Millisecond

type Exchange struct {
	// APIURL is the base URL of the matching service REST API.
	APIURL string `yaml:"api_url"`
	// Address is the exchange contract that orders are bound to.
	Address string `yaml:"address"`
	// PollInterval is the sleep between two emissions of one updater.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ExpirationBlocks is how far past the current block a new order stays valid.
	ExpirationBlocks uint64 `yaml:"expiration_blocks"`
	// RatePerSec caps outgoing API calls. Zero disables pacing.
	RatePerSec float64 `yaml:"rate_per_sec"`
	// TradingWallet is the address whose order list is tracked.
	TradingWallet string `yaml:"trading_wallet"`
}

type Node struct {
	// DataDir holds the market cache and the signal journal. Empty keeps
	// everything in memory.
	DataDir      string `yaml:"data_dir"`
	APIAddr      string `yaml:"api_addr"`
	LogFile      string `yaml:"log_file"`
	KeystoreFile string `yaml:"keystore_file"`
	// EthRPCURL is the Ethereum node used for block height, balances and
	// quick purchases. Empty disables chain access.
	EthRPCURL      string   `yaml:"eth_rpc_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Verbose        bool     `yaml:"verbose"`
}

type Config struct {
	Exchange Exchange `yaml:"exchange"`
	Node     Node     `yaml:"node"`
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			APIURL:           "http://localhost:8080/api/v1",
			PollInterval:     DefaultPollInterval,
			ExpirationBlocks: 10000,
			RatePerSec:       10,
		},
		Node: Node{
			DataDir: "data",
			APIAddr: ":9090",
			LogFile: "data/dexsync.log",
		},
	}
}

// LoadFile overlays a YAML file on top of cfg. Missing keys keep their value.
func LoadFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > base
func LoadFromEnv(base Config, envPath string) Config {
	cfg := base

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Exchange.APIURL = getEnv("EXCHANGE_API_URL", cfg.Exchange.APIURL)
	cfg.Exchange.Address = getEnv("EXCHANGE_ADDRESS", cfg.Exchange.Address)
	cfg.Exchange.TradingWallet = getEnv("TRADING_WALLET", cfg.Exchange.TradingWallet)

	if ms := os.Getenv("POLL_INTERVAL_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil && n > 0 {
			cfg.Exchange.PollInterval = time.Duration(n) * time.Millisecond
		}
	}
	if blocks := os.Getenv("ORDER_EXPIRATION_BLOCKS"); blocks != "" {
		if n, err := strconv.ParseUint(blocks, 10, 64); err == nil {
			cfg.Exchange.ExpirationBlocks = n
		}
	}
	if rate := os.Getenv("API_RATE_PER_SEC"); rate != "" {
		if f, err := strconv.ParseFloat(rate, 64); err == nil && f >= 0 {
			cfg.Exchange.RatePerSec = f
		}
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.KeystoreFile = getEnv("KEYSTORE_FILE", cfg.Node.KeystoreFile)
	cfg.Node.EthRPCURL = getEnv("ETH_RPC_URL", cfg.Node.EthRPCURL)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Node.AllowedOrigins = splitList(origins)
	}
	if verbose := os.Getenv("VERBOSE"); verbose != "" {
		cfg.Node.Verbose = verbose == "true"
	}

	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
