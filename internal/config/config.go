// Package config resolves environment-derived configuration into one
// explicit struct that is injected into each component at construction.
// Business logic never reads the process environment directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Defaults for the Tempo Moderato testnet deployment.
const (
	DefaultRPCURL  = "https://rpc.moderato.tempo.xyz"
	DefaultChainID = 42431
)

// Config holds all process configuration.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no read-through cache

	RPCURL             string
	ChainID            int64
	LoanManagerAddress common.Address
	LedgerReadTimeout  time.Duration

	// InvoiceSignerKey is the dedicated invoice-signing credential,
	// distinct from any merchant key.
	InvoiceSignerKey string

	// AppBaseURL is the public base for checkout links.
	AppBaseURL string
}

// FromEnv builds a Config from the process environment, applying
// defaults and validating required values.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:              envOr("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		RPCURL:            envOr("TEMPO_RPC_URL", DefaultRPCURL),
		ChainID:           DefaultChainID,
		LedgerReadTimeout: 5 * time.Second,
		InvoiceSignerKey:  os.Getenv("INVOICE_SIGNER_PRIVATE_KEY"),
		AppBaseURL:        strings.TrimRight(envOr("APP_BASE_URL", "http://localhost:8080"), "/"),
	}

	if v := os.Getenv("TEMPO_CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid TEMPO_CHAIN_ID %q: %w", v, err)
		}
		cfg.ChainID = id
	}

	if v := os.Getenv("LEDGER_READ_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("config: invalid LEDGER_READ_TIMEOUT_MS %q", v)
		}
		cfg.LedgerReadTimeout = time.Duration(ms) * time.Millisecond
	}

	addr := os.Getenv("LOAN_MANAGER_ADDRESS")
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("config: missing or invalid LOAN_MANAGER_ADDRESS %q", addr)
	}
	cfg.LoanManagerAddress = common.HexToAddress(addr)

	if cfg.InvoiceSignerKey == "" {
		return nil, fmt.Errorf("config: missing INVOICE_SIGNER_PRIVATE_KEY")
	}

	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
