package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexsync/params"
	"github.com/uhyunpark/dexsync/pkg/api"
	"github.com/uhyunpark/dexsync/pkg/client"
	"github.com/uhyunpark/dexsync/pkg/crypto"
	"github.com/uhyunpark/dexsync/pkg/exchange"
	"github.com/uhyunpark/dexsync/pkg/market"
	"github.com/uhyunpark/dexsync/pkg/poll"
	"github.com/uhyunpark/dexsync/pkg/storage"
	"github.com/uhyunpark/dexsync/pkg/util"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	envPath := flag.String("env", "", ".env file (default: ./.env)")
	flag.Parse()

	// Priority: ENV > .env file > YAML > defaults
	cfg := params.Default()
	if *configPath != "" {
		var err error
		if cfg, err = params.LoadFile(cfg, *configPath); err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	cfg = params.LoadFromEnv(cfg, *envPath)

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("dexsync_failed", "err", err)
	}
}

func run(ctx context.Context, cfg params.Config, sugar *zap.SugaredLogger) error {
	// ---- Wallet ----
	if cfg.Node.KeystoreFile == "" {
		return fmt.Errorf("KEYSTORE_FILE is required")
	}
	wallet, err := crypto.LoadKeystoreWallet(cfg.Node.KeystoreFile)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(cfg.Exchange.Address) {
		return fmt.Errorf("EXCHANGE_ADDRESS %q is not an address", cfg.Exchange.Address)
	}
	sugar.Infow("wallet_loaded", "account", wallet.Address().Hex())

	// ---- Storage ----
	var (
		cache   storage.Cache
		wal     exchange.WAL = storage.NewNopWAL()
		replay  []exchange.Signal
		walFile *storage.FileWAL
	)
	if cfg.Node.DataDir == "" {
		cache = storage.NewMemoryStore()
	} else {
		if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
			return err
		}
		ps, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "cache"))
		if err != nil {
			return err
		}
		cache = ps

		walPath := filepath.Join(cfg.Node.DataDir, "signals.wal")
		if replay, err = storage.CompactWAL(walPath); err != nil {
			return err
		}
		if walFile, err = storage.NewFileWAL(walPath); err != nil {
			return err
		}
		wal = walFile
	}
	defer cache.Close()

	initial, err := storage.LoadState(cache)
	if err != nil {
		return err
	}
	store := market.NewStore(initial)
	store.Subscribe(storage.NewPersister(cache, sugar).Listen)
	sugar.Infow("cache_loaded", "pairs", len(initial.Pairs), "trade_books", len(initial.Trades))

	// ---- Exchange API and chain ----
	apiClient, err := client.New(cfg.Exchange.APIURL, client.Options{
		RatePerSec: cfg.Exchange.RatePerSec,
		Logger:     sugar,
	})
	if err != nil {
		return err
	}

	var chain exchange.Chain
	if cfg.Node.EthRPCURL != "" {
		eth, err := ethclient.DialContext(ctx, cfg.Node.EthRPCURL)
		if err != nil {
			return err
		}
		defer eth.Close()
		chain = eth
		sugar.Infow("chain_connected", "rpc", cfg.Node.EthRPCURL)
	} else {
		sugar.Info("chain_disabled - block height comes from NEW_BLOCK signals only")
	}

	coord, err := exchange.New(exchange.Config{
		API:              apiClient,
		Vault:            wallet,
		Wallet:           wallet,
		Chain:            chain,
		Journal:          cache,
		WAL:              wal,
		Store:            store,
		Exchange:         common.HexToAddress(cfg.Exchange.Address),
		Account:          wallet.Address(),
		TradingWallet:    cfg.Exchange.TradingWallet,
		ExpirationBlocks: cfg.Exchange.ExpirationBlocks,
		PollInterval:     cfg.Exchange.PollInterval,
		Clock:            util.RealClock{},
		Logger:           sugar,
		Report: func(key poll.Key, err error) {
			sugar.Debugw("updater_error_reported", "key", key.String(), "reason", exchange.Classify(err))
		},
	})
	if err != nil {
		return err
	}
	if n, ok, err := cache.LastBlock(); err == nil && ok {
		coord.SetLastBlock(n)
	}

	// ---- API Server ----
	apiServer := api.NewServer(ctx, coord, api.Options{
		AllowedOrigins: cfg.Node.AllowedOrigins,
		Logger:         sugar,
	})
	errc := make(chan error, 1)
	go func() {
		errc <- apiServer.Start(cfg.Node.APIAddr)
	}()

	// ---- Updaters ----
	coord.Replay(ctx, replay)
	coord.StartBlockWatcher(ctx)
	coord.Dispatch(ctx, exchange.AppReady{})
	sugar.Infow("dexsync_started",
		"api_addr", cfg.Node.APIAddr,
		"exchange_api", cfg.Exchange.APIURL,
		"poll_interval_ms", cfg.Exchange.PollInterval.Milliseconds(),
		"replayed_updaters", len(replay))

	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := apiServer.Shutdown(shutdownCtx); serr != nil {
		sugar.Warnw("api_shutdown_failed", "err", serr)
	}
	coord.Close()
	if walFile != nil {
		walFile.Close()
	}
	sugar.Info("dexsync_stopped")
	return err
}
