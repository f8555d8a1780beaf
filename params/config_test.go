package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dexsync.yaml")
	body := []byte("exchange:\n  address: \"0x00000000000000000000000000000000000000aa\"\n  poll_interval: 2s\nnode:\n  api_addr: \":7000\"\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(Default(), path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Exchange.PollInterval != 2*time.Second {
		t.Errorf("poll interval = %v, want 2s", cfg.Exchange.PollInterval)
	}
	if cfg.Node.APIAddr != ":7000" {
		t.Errorf("api addr = %q", cfg.Node.APIAddr)
	}
	// untouched keys keep defaults
	if cfg.Exchange.ExpirationBlocks != 10000 {
		t.Errorf("expiration blocks = %d, want default", cfg.Exchange.ExpirationBlocks)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("ORDER_EXPIRATION_BLOCKS", "42")
	t.Setenv("EXCHANGE_API_URL", "http://example.test/api")
	t.Setenv("VERBOSE", "true")

	cfg := LoadFromEnv(Default(), filepath.Join(t.TempDir(), "missing.env"))
	if cfg.Exchange.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.Exchange.PollInterval)
	}
	if cfg.Exchange.ExpirationBlocks != 42 {
		t.Errorf("expiration blocks = %d", cfg.Exchange.ExpirationBlocks)
	}
	if cfg.Exchange.APIURL != "http://example.test/api" {
		t.Errorf("api url = %q", cfg.Exchange.APIURL)
	}
	if !cfg.Node.Verbose {
		t.Error("verbose should be enabled")
	}
}

func TestLoadFromEnvIgnoresBadInterval(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MS", "soon")
	cfg := LoadFromEnv(Default(), filepath.Join(t.TempDir(), "missing.env"))
	if cfg.Exchange.PollInterval != DefaultPollInterval {
		t.Errorf("poll interval = %v, want default", cfg.Exchange.PollInterval)
	}
}

func TestLoadFromEnvChainAndOrigins(t *testing.T) {
	t.Setenv("ETH_RPC_URL", "http://127.0.0.1:8545")
	t.Setenv("TRADING_WALLET", "0x00000000000000000000000000000000000000bb")
	t.Setenv("CORS_ORIGINS", "http://a.test, ,http://b.test")

	cfg := LoadFromEnv(Default(), filepath.Join(t.TempDir(), "missing.env"))
	if cfg.Node.EthRPCURL != "http://127.0.0.1:8545" {
		t.Errorf("eth rpc = %q", cfg.Node.EthRPCURL)
	}
	if cfg.Exchange.TradingWallet != "0x00000000000000000000000000000000000000bb" {
		t.Errorf("trading wallet = %q", cfg.Exchange.TradingWallet)
	}
	if len(cfg.Node.AllowedOrigins) != 2 || cfg.Node.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("origins = %v", cfg.Node.AllowedOrigins)
	}
}
