package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"metatx/cmd/internal/passphrase"
	"metatx/config"
	"metatx/core"
	"metatx/core/events"
	"metatx/crypto"
	"metatx/indexer"
	"metatx/observability/logging"
	telemetry "metatx/observability/otel"
	"metatx/rpc"
	"metatx/storage"
)

const relayerPassEnv = "METATX_RELAYER_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	exportPath := flag.String("export-parquet", "", "Write the executed-envelope index to this Parquet file and exit")
	flag.Parse()

	if err := run(*configFile, *exportPath); err != nil {
		fmt.Fprintf(os.Stderr, "metatxd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, exportPath string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.Setup("metatxd", logging.Options{
		Env:        cfg.Log.Env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ix *indexer.Indexer
	if dsn := strings.TrimSpace(cfg.IndexerDSN); dsn != "" {
		ix, err = indexer.Open(dsn)
		if err != nil {
			return fmt.Errorf("open indexer: %w", err)
		}
		defer ix.Close()
	}
	if exportPath != "" {
		return exportIndex(ctx, logger, ix, exportPath)
	}

	shutdown, err := telemetry.Init(ctx, cfg.Log.Env, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	relayerKey, err := crypto.LoadFromKeystore(cfg.RelayerKeystorePath, "")
	if err != nil {
		pass, passErr := passphrase.NewSource(relayerPassEnv, "relayer keystore").Get()
		if passErr != nil {
			return passErr
		}
		relayerKey, err = crypto.LoadFromKeystore(cfg.RelayerKeystorePath, pass)
		if err != nil {
			return fmt.Errorf("load relayer key: %w", err)
		}
	}
	relayer := relayerKey.AccountID()

	gen, err := cfg.Genesis.Parse()
	if err != nil {
		return fmt.Errorf("parse genesis: %w", err)
	}
	if gen.Admin == nil {
		gen.Admin = &relayer
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hub := rpc.NewHub()
	emitters := events.Multi{hub}
	serverOpts := []rpc.Option{rpc.WithHub(hub), rpc.WithLogger(logger.With(slog.String("component", "rpc")))}
	if ix != nil {
		emitters = append(emitters, ix)
		serverOpts = append(serverOpts, rpc.WithIndexer(ix))
	}

	node, err := core.NewNode(db, gen,
		core.WithEmitter(emitters),
		core.WithLogger(logger.With(slog.String("component", "core"))))
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	secret := os.Getenv(cfg.RPC.JWTSecretEnv)
	if strings.TrimSpace(secret) == "" {
		logger.Warn("RPC authentication secret not set; mutating methods are disabled",
			slog.String("secretEnv", cfg.RPC.JWTSecretEnv))
	} else {
		logger.Info("RPC authentication enabled",
			slog.String("secretEnv", cfg.RPC.JWTSecretEnv),
			logging.MaskField("secret", secret))
	}
	server := rpc.NewServer(node, relayer, rpc.ConfigFromRPC(cfg.RPC, secret), serverOpts...)

	logger.Info("metatxd started",
		slog.String("network", cfg.NetworkName),
		slog.String("relayer", relayer.String()),
		slog.String("forwarder", node.ForwarderAddress().String()),
		slog.String("listen", cfg.ListenAddress))
	if err := server.Serve(ctx, cfg.ListenAddress); err != nil {
		return err
	}
	logger.Info("metatxd stopped")
	return nil
}

func openDatabase(dataDir string) (storage.Database, error) {
	if strings.TrimSpace(dataDir) == "" {
		return storage.NewMemDB(), nil
	}
	path := filepath.Join(dataDir, "state")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return storage.NewLevelDB(path)
}

func exportIndex(ctx context.Context, logger *slog.Logger, ix *indexer.Indexer, path string) error {
	if ix == nil {
		return errors.New("export requires IndexerDSN")
	}
	rows, err := ix.ExportParquet(ctx, path)
	if err != nil {
		return fmt.Errorf("export parquet: %w", err)
	}
	logger.Info("index exported", slog.String("path", path), slog.Int("rows", rows))
	return nil
}
