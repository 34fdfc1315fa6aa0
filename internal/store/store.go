// Package store defines the persistence interface for the invoice engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for the immutable public read path), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bnpl/invoice-engine/internal/model"
)

var (
	// ErrNotFound is returned when no row matches the given identifier.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an idempotency key is reused with a
	// different request hash.
	ErrConflict = errors.New("store: idempotency key conflict")
)

// BuildInvoiceFunc constructs a fresh invoice (correlation id, signature,
// fee computation) on the creation path. It is invoked at most once per
// (merchant, idempotency key) pair, inside the creation transaction, and
// never on a replay.
type BuildInvoiceFunc func(ctx context.Context) (*model.Invoice, error)

// Store is the persistence interface. PostgreSQL is the source of truth.
//
// CreateInvoice is the idempotency adapter: it runs one atomic
// transaction that either replays the invoice previously created for
// (merchantID, idempotencyKey), fails with ErrConflict when the stored
// request hash differs, or invokes build and persists the new invoice
// together with its idempotency record. Concurrent creations for the
// same key serialize on the storage layer's uniqueness guarantee, not on
// in-process locks; exactly one insert wins and the losers read the
// winner's result.
type Store interface {
	CreateInvoice(ctx context.Context, merchantID, idempotencyKey, requestHash string, build BuildInvoiceFunc) (*model.Invoice, error)

	// GetInvoice retrieves an invoice by id, scoped to its owning merchant.
	GetInvoice(ctx context.Context, merchantID, invoiceID string) (*model.Invoice, error)

	// GetInvoiceByCorrelation retrieves an invoice by correlation id,
	// scoped to its owning merchant.
	GetInvoiceByCorrelation(ctx context.Context, merchantID string, correlationID common.Hash) (*model.Invoice, error)

	// GetInvoiceByCorrelationPublic retrieves an invoice by correlation id
	// alone. This backs the unauthenticated checkout read path.
	GetInvoiceByCorrelationPublic(ctx context.Context, correlationID common.Hash) (*model.Invoice, error)

	// --- Merchant operations ---

	CreateMerchant(ctx context.Context, m *model.Merchant) error
	GetMerchant(ctx context.Context, id string) (*model.Merchant, error)
	GetMerchantByAPIKeyHash(ctx context.Context, apiKeyHash string) (*model.Merchant, error)
}
