package config

import (
	"os"
	"path/filepath"
	"strings"

	"metatx/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress       string `toml:"ListenAddress"`
	DataDir             string `toml:"DataDir"`
	NetworkName         string `toml:"NetworkName"`
	RelayerKeystorePath string `toml:"RelayerKeystorePath"`
	IndexerDSN          string `toml:"IndexerDSN"`

	Genesis   Genesis   `toml:"genesis"`
	Log       Log       `toml:"log"`
	Telemetry Telemetry `toml:"telemetry"`
	RPC       RPC       `toml:"rpc"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "metatx-local"
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8545"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = "dev"
	}
	if cfg.RPC.RateLimitPerSecond == 0 {
		cfg.RPC.RateLimitPerSecond = DefaultRateLimitPerSecond
	}
	if cfg.RPC.RateLimitBurst == 0 {
		cfg.RPC.RateLimitBurst = DefaultRateLimitBurst
	}
	if cfg.RPC.MaxBodyBytes == 0 {
		cfg.RPC.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.RPC.JWTSecretEnv == "" {
		cfg.RPC.JWTSecretEnv = DefaultJWTSecretEnv
	}
	if cfg.RPC.JWTIssuer == "" {
		cfg.RPC.JWTIssuer = DefaultJWTIssuer
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "metatxd"
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.RelayerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.RelayerKeystorePath != keystorePath {
		cfg.RelayerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress: ":8545",
		DataDir:       "./metatx-data",
		NetworkName:   "metatx-local",
		IndexerDSN:    "sqlite:./metatx-data/indexer.db",
		Genesis: Genesis{
			FlipperInitValue: false,
			Allocations:      []Allocation{},
		},
	}
	cfg.RelayerKeystorePath = keystorePath
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "relayer.keystore")
}
