package chain

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/bnpl/invoice-engine/internal/model"
)

var (
	testContract = common.HexToAddress("0x000000000000000000000000000000000000beef")
	testCorrID   = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
)

type fakeCaller struct {
	fn func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f.fn(ctx, msg)
}

func newTestReader(t *testing.T, fn func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)) *Reader {
	t.Helper()
	r, err := NewReader(&fakeCaller{fn: fn}, testContract, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return r
}

func (r *Reader) packLoanOutputs(t *testing.T, state, settlement uint8, amountDue *big.Int) []byte {
	t.Helper()
	out, err := r.abi.Methods["getLoan"].Outputs.Pack(state, settlement, amountDue)
	if err != nil {
		t.Fatalf("pack getLoan outputs: %v", err)
	}
	return out
}

func TestReadLoan_DecodesSnapshot(t *testing.T) {
	var r *Reader
	r = newTestReader(t, func(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
		if *msg.To != testContract {
			t.Errorf("call target = %s, want %s", msg.To.Hex(), testContract.Hex())
		}
		return r.packLoanOutputs(t, 2, 1, big.NewInt(700_000000)), nil
	})

	view, err := r.ReadLoan(context.Background(), testCorrID)
	if err != nil {
		t.Fatalf("ReadLoan: %v", err)
	}
	if view.State != model.LoanStateSettled {
		t.Errorf("state = %d, want settled", view.State)
	}
	if view.SettlementType != model.SettlementRepaid {
		t.Errorf("settlement = %d, want repaid", view.SettlementType)
	}
	if view.AmountDueOutstanding.Cmp(big.NewInt(700_000000)) != 0 {
		t.Errorf("amount due = %s, want 700000000", view.AmountDueOutstanding)
	}
}

func TestReadLoan_RPCErrorIsLedgerUnavailable(t *testing.T) {
	r := newTestReader(t, func(context.Context, ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("connection refused")
	})

	_, err := r.ReadLoan(context.Background(), testCorrID)
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
}

func TestReadLoan_MalformedResponseIsLedgerUnavailable(t *testing.T) {
	r := newTestReader(t, func(context.Context, ethereum.CallMsg) ([]byte, error) {
		return []byte{0x01, 0x02}, nil
	})

	_, err := r.ReadLoan(context.Background(), testCorrID)
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
}

func TestReadLoan_TimeoutIsLedgerUnavailable(t *testing.T) {
	r := newTestReader(t, func(ctx context.Context, _ ethereum.CallMsg) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	_, err := r.ReadLoan(context.Background(), testCorrID)
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("read blocked %s, timeout not enforced", elapsed)
	}
}

func TestPendingProfit(t *testing.T) {
	var r *Reader
	r = newTestReader(t, func(context.Context, ethereum.CallMsg) ([]byte, error) {
		out, err := r.abi.Methods["pendingProfit"].Outputs.Pack(big.NewInt(300_000000))
		if err != nil {
			t.Fatalf("pack: %v", err)
		}
		return out, nil
	})

	profit, err := r.PendingProfit(context.Background(), testCorrID)
	if err != nil {
		t.Fatalf("PendingProfit: %v", err)
	}
	if profit.Cmp(big.NewInt(300_000000)) != 0 {
		t.Errorf("profit = %s, want 300000000", profit)
	}
}

func TestNormalizeBaseUnits(t *testing.T) {
	huge, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)

	tests := []struct {
		name string
		in   any
		want *big.Int
	}{
		{"big.Int pointer", big.NewInt(42), big.NewInt(42)},
		{"big.Int value", *big.NewInt(7), big.NewInt(7)},
		{"uint128 scale", huge, huge},
		{"uint8", uint8(2), big.NewInt(2)},
		{"uint64", uint64(1000_000000), big.NewInt(1000_000000)},
		{"int", int(5), big.NewInt(5)},
		{"int64", int64(970_000000), big.NewInt(970_000000)},
		{"float64 integral", float64(30_000000), big.NewInt(30_000000)},
		{"float64 zero", float64(0), big.NewInt(0)},
		{"json.Number", json.Number("1250000000"), big.NewInt(1250_000000)},
		{"decimal string", "700000000", big.NewInt(700_000000)},
		{"hex string", "0x29b92700", big.NewInt(700_000000)},
		{"uppercase hex prefix", "0X1", big.NewInt(1)},
		{"whitespace string", " 12 ", big.NewInt(12)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBaseUnits(tt.in)
			if err != nil {
				t.Fatalf("NormalizeBaseUnits(%v): %v", tt.in, err)
			}
			if got.Cmp(tt.want) != 0 {
				t.Errorf("NormalizeBaseUnits(%v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeBaseUnits_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   any
	}{
		{"negative big.Int", big.NewInt(-1)},
		{"nil big.Int", (*big.Int)(nil)},
		{"negative int", int64(-5)},
		{"fractional float", 1.5},
		{"negative float", -2.0},
		{"NaN", math.NaN()},
		{"fractional string", "1.5"},
		{"empty string", ""},
		{"malformed string", "12abc"},
		{"negative string", "-3"},
		{"bool", true},
		{"nil", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NormalizeBaseUnits(tt.in); err == nil {
				t.Errorf("NormalizeBaseUnits(%v): expected error", tt.in)
			}
		})
	}
}
