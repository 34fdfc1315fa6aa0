package store_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/bnpl/invoice-engine/internal/model"
	"github.com/bnpl/invoice-engine/internal/store"
)

func randomHash() common.Hash {
	var h common.Hash
	a, b := uuid.New(), uuid.New()
	copy(h[:16], a[:])
	copy(h[16:], b[:])
	return h
}

func buildTestInvoice(merchantID string) store.BuildInvoiceFunc {
	return func(context.Context) (*model.Invoice, error) {
		return &model.Invoice{
			ID:                      uuid.New().String(),
			MerchantID:              merchantID,
			CorrelationID:           randomHash(),
			PriceBaseUnits:          big.NewInt(1000_000000),
			DueTimestamp:            time.Now().Add(14 * 24 * time.Hour).Unix(),
			Signature:               []byte{0x01, 0x02},
			MerchantFeeBaseUnits:    big.NewInt(30_000000),
			MerchantPayoutBaseUnits: big.NewInt(970_000000),
			CreatedAt:               time.Now().UTC(),
		}, nil
	}
}

func TestCreateInvoice_ReplaySameHash(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	var builds atomic.Int32
	build := func(ctx context.Context) (*model.Invoice, error) {
		builds.Add(1)
		return buildTestInvoice("m1")(ctx)
	}

	first, err := ms.CreateInvoice(ctx, "m1", "key-1", "hash-a", build)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	second, err := ms.CreateInvoice(ctx, "m1", "key-1", "hash-a", build)
	if err != nil {
		t.Fatalf("replay create: %v", err)
	}

	if builds.Load() != 1 {
		t.Errorf("build invoked %d times, want 1", builds.Load())
	}
	if second.ID != first.ID || second.CorrelationID != first.CorrelationID {
		t.Error("replay returned a different invoice")
	}
}

func TestCreateInvoice_ConflictOnDifferentHash(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	first, err := ms.CreateInvoice(ctx, "m1", "key-1", "hash-a", buildTestInvoice("m1"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err = ms.CreateInvoice(ctx, "m1", "key-1", "hash-b", buildTestInvoice("m1"))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// The first invoice must be unaffected.
	got, err := ms.GetInvoice(ctx, "m1", first.ID)
	if err != nil {
		t.Fatalf("get after conflict: %v", err)
	}
	if got.CorrelationID != first.CorrelationID {
		t.Error("first invoice changed after conflict")
	}
}

func TestCreateInvoice_SameKeyDifferentMerchants(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	a, err := ms.CreateInvoice(ctx, "m1", "shared-key", "hash-a", buildTestInvoice("m1"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ms.CreateInvoice(ctx, "m2", "shared-key", "hash-a", buildTestInvoice("m2"))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Error("idempotency keys must be scoped per merchant")
	}
}

func TestCreateInvoice_ConcurrentSameKey(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	var builds atomic.Int32
	build := func(ctx context.Context) (*model.Invoice, error) {
		builds.Add(1)
		return buildTestInvoice("m1")(ctx)
	}

	const n = 16
	results := make([]*model.Invoice, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inv, err := ms.CreateInvoice(ctx, "m1", "race-key", "hash-a", build)
			if err != nil {
				t.Errorf("concurrent create %d: %v", i, err)
				return
			}
			results[i] = inv
		}(i)
	}
	wg.Wait()

	if builds.Load() != 1 {
		t.Fatalf("build invoked %d times under concurrency, want exactly 1", builds.Load())
	}
	for i := 1; i < n; i++ {
		if results[i] == nil || results[0] == nil {
			t.Fatal("missing result")
		}
		if results[i].ID != results[0].ID {
			t.Fatalf("call %d observed a different invoice", i)
		}
	}
}

func TestMerchantLookupByAPIKeyHash(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	m := &model.Merchant{
		ID:            "m1",
		Name:          "Acme",
		WalletAddress: common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		APIKeyHash:    "abc123",
		CreatedAt:     time.Now().UTC(),
	}
	if err := ms.CreateMerchant(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := ms.GetMerchantByAPIKeyHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}
	if got.ID != "m1" {
		t.Errorf("got merchant %s, want m1", got.ID)
	}

	if _, err := ms.GetMerchantByAPIKeyHash(ctx, "wrong"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
