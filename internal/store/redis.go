package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/bnpl/invoice-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache on the public checkout read path. Invoices are
// immutable once created, so cached rows can never go stale; only the
// existence of a row changes, which the TTL covers. Writes always go
// straight to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetInvoiceByCorrelationPublic(ctx context.Context, correlationID common.Hash) (*model.Invoice, error) {
	key := invoiceCorrelationKey(correlationID)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var inv model.Invoice
		if json.Unmarshal(data, &inv) == nil {
			return &inv, nil
		}
	}

	inv, err := s.primary.GetInvoiceByCorrelationPublic(ctx, correlationID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(inv); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return inv, nil
}

func (s *CachedStore) GetMerchant(ctx context.Context, id string) (*model.Merchant, error) {
	key := merchantKey(id)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var m model.Merchant
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMerchant(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return m, nil
}

// --- Write-through / passthrough ---

func (s *CachedStore) CreateInvoice(ctx context.Context, merchantID, idempotencyKey, requestHash string, build BuildInvoiceFunc) (*model.Invoice, error) {
	// Idempotency lookups must always hit the transactional store.
	return s.primary.CreateInvoice(ctx, merchantID, idempotencyKey, requestHash, build)
}

func (s *CachedStore) GetInvoice(ctx context.Context, merchantID, invoiceID string) (*model.Invoice, error) {
	return s.primary.GetInvoice(ctx, merchantID, invoiceID)
}

func (s *CachedStore) GetInvoiceByCorrelation(ctx context.Context, merchantID string, correlationID common.Hash) (*model.Invoice, error) {
	return s.primary.GetInvoiceByCorrelation(ctx, merchantID, correlationID)
}

func (s *CachedStore) CreateMerchant(ctx context.Context, m *model.Merchant) error {
	if err := s.primary.CreateMerchant(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, merchantKey(m.ID))
	return nil
}

func (s *CachedStore) GetMerchantByAPIKeyHash(ctx context.Context, apiKeyHash string) (*model.Merchant, error) {
	return s.primary.GetMerchantByAPIKeyHash(ctx, apiKeyHash)
}

// --- Cache keys ---

func invoiceCorrelationKey(id common.Hash) string { return fmt.Sprintf("invoice:corr:%s", id.Hex()) }
func merchantKey(id string) string                { return fmt.Sprintf("merchant:%s", id) }
