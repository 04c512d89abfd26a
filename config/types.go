package config

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"metatx/core/types"
	"metatx/crypto"
)

// RPC defaults.
const (
	DefaultRateLimitPerSecond = 20.0
	DefaultRateLimitBurst     = 40
	DefaultMaxBodyBytes       = 1 << 20
	DefaultJWTSecretEnv       = "METATX_RPC_JWT_SECRET"
	DefaultJWTIssuer          = "metatx"
)

// Genesis describes the state created when the node starts on an empty
// database.
type Genesis struct {
	// Admin receives the admin role of the consumer contracts. Empty means
	// the relayer account.
	Admin            string       `toml:"Admin"`
	FlipperInitValue bool         `toml:"FlipperInitValue"`
	Allocations      []Allocation `toml:"allocations"`
}

// Allocation credits an account at genesis. Amount is a decimal or 0x
// prefixed integer up to 128 bits.
type Allocation struct {
	Account string `toml:"Account"`
	Amount  string `toml:"Amount"`
}

// Log controls the process logger.
type Log struct {
	Level      string `toml:"Level"`
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// Telemetry controls OTLP export.
type Telemetry struct {
	Enabled     bool              `toml:"Enabled"`
	ServiceName string            `toml:"ServiceName"`
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Metrics     bool              `toml:"Metrics"`
	Traces      bool              `toml:"Traces"`
	Headers     map[string]string `toml:"Headers"`
}

// RPC controls the JSON-RPC server.
type RPC struct {
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
	MaxBodyBytes       int64   `toml:"MaxBodyBytes"`
	// JWTSecretEnv names the environment variable holding the HMAC secret
	// used to verify bearer tokens on mutating methods. Authentication is
	// disabled when the variable is unset.
	JWTSecretEnv string `toml:"JWTSecretEnv"`
	JWTIssuer    string `toml:"JWTIssuer"`
	JWTAudience  string `toml:"JWTAudience"`
}

// ParsedGenesis is the typed form of Genesis.
type ParsedGenesis struct {
	Admin            *crypto.AccountID
	FlipperInitValue bool
	Allocations      map[crypto.AccountID]*uint256.Int
}

// Parse decodes the account ids and amounts of the genesis section.
func (g Genesis) Parse() (ParsedGenesis, error) {
	parsed := ParsedGenesis{
		FlipperInitValue: g.FlipperInitValue,
		Allocations:      make(map[crypto.AccountID]*uint256.Int, len(g.Allocations)),
	}
	if admin := strings.TrimSpace(g.Admin); admin != "" {
		id, err := crypto.DecodeAccountID(admin)
		if err != nil {
			return parsed, fmt.Errorf("genesis: admin: %w", err)
		}
		parsed.Admin = &id
	}
	for i, alloc := range g.Allocations {
		id, err := crypto.DecodeAccountID(strings.TrimSpace(alloc.Account))
		if err != nil {
			return parsed, fmt.Errorf("genesis: allocations[%d]: account: %w", i, err)
		}
		amount, err := types.ParseUint128(strings.TrimSpace(alloc.Amount))
		if err != nil {
			return parsed, fmt.Errorf("genesis: allocations[%d]: amount: %w", i, err)
		}
		if _, dup := parsed.Allocations[id]; dup {
			return parsed, fmt.Errorf("genesis: allocations[%d]: duplicate account %s", i, id)
		}
		parsed.Allocations[id] = amount
	}
	return parsed, nil
}
