package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bnpl/invoice-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. The single mutex plays the role of the database's
// uniqueness guarantee: creations for the same key serialize, so exactly
// one build wins and later calls replay its result.
type MemoryStore struct {
	mu          sync.RWMutex
	merchants   map[string]*model.Merchant
	invoices    map[string]*model.Invoice
	idempotency map[string]*model.IdempotencyRecord // merchantID + "\x00" + key
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		merchants:   make(map[string]*model.Merchant),
		invoices:    make(map[string]*model.Invoice),
		idempotency: make(map[string]*model.IdempotencyRecord),
	}
}

func idemKey(merchantID, key string) string {
	return merchantID + "\x00" + key
}

func (s *MemoryStore) CreateInvoice(ctx context.Context, merchantID, idempotencyKey, requestHash string, build BuildInvoiceFunc) (*model.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.idempotency[idemKey(merchantID, idempotencyKey)]; ok {
		if rec.RequestHash != requestHash {
			return nil, ErrConflict
		}
		inv := *s.invoices[rec.InvoiceID]
		return &inv, nil
	}

	inv, err := build(ctx)
	if err != nil {
		return nil, err
	}

	// Store copies to avoid external mutation.
	stored := *inv
	s.invoices[inv.ID] = &stored
	s.idempotency[idemKey(merchantID, idempotencyKey)] = &model.IdempotencyRecord{
		MerchantID:  merchantID,
		Key:         idempotencyKey,
		RequestHash: requestHash,
		InvoiceID:   inv.ID,
		CreatedAt:   inv.CreatedAt,
	}
	return inv, nil
}

func (s *MemoryStore) GetInvoice(_ context.Context, merchantID, invoiceID string) (*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[invoiceID]
	if !ok || inv.MerchantID != merchantID {
		return nil, ErrNotFound
	}
	copied := *inv
	return &copied, nil
}

func (s *MemoryStore) GetInvoiceByCorrelation(_ context.Context, merchantID string, correlationID common.Hash) (*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.CorrelationID == correlationID && inv.MerchantID == merchantID {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetInvoiceByCorrelationPublic(_ context.Context, correlationID common.Hash) (*model.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.CorrelationID == correlationID {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateMerchant(_ context.Context, m *model.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.merchants[m.ID]; ok {
		return fmt.Errorf("merchant %s already exists", m.ID)
	}
	copied := *m
	s.merchants[m.ID] = &copied
	return nil
}

func (s *MemoryStore) GetMerchant(_ context.Context, id string) (*model.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.merchants[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *m
	return &copied, nil
}

func (s *MemoryStore) GetMerchantByAPIKeyHash(_ context.Context, apiKeyHash string) (*model.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.merchants {
		if m.APIKeyHash == apiKeyHash {
			copied := *m
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}
