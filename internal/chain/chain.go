// Package chain is the read-only boundary to the on-ledger LoanManager
// contract. Reads carry a bounded timeout and degrade to
// ErrLedgerUnavailable on any transport or decoding failure; callers
// proceed with a local-only view instead of failing the request. Ledger
// reads never run inside a store transaction.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bnpl/invoice-engine/internal/model"
)

// ErrLedgerUnavailable is returned for any failed or malformed ledger
// read. It is transient: callers catch it locally and degrade.
var ErrLedgerUnavailable = errors.New("chain: ledger unavailable")

// Minimal read-only slice of the LoanManager ABI.
const loanManagerABI = `[
	{"type":"function","name":"getLoan","stateMutability":"view",
	 "inputs":[{"name":"correlationId","type":"bytes32"}],
	 "outputs":[{"name":"state","type":"uint8"},
	            {"name":"settlementType","type":"uint8"},
	            {"name":"amountDueOutstanding","type":"uint256"}]},
	{"type":"function","name":"pendingProfit","stateMutability":"view",
	 "inputs":[{"name":"correlationId","type":"bytes32"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

// LoanReader is the ledger boundary consumed by the orchestrator.
type LoanReader interface {
	ReadLoan(ctx context.Context, correlationID common.Hash) (*model.LedgerLoanView, error)
	PendingProfit(ctx context.Context, correlationID common.Hash) (*big.Int, error)
}

// ContractCaller abstracts eth_call. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader reads loan state from the LoanManager contract over JSON-RPC.
type Reader struct {
	caller   ContractCaller
	contract common.Address
	timeout  time.Duration
	abi      abi.ABI
}

// NewReader creates a reader over an existing caller.
func NewReader(caller ContractCaller, contract common.Address, timeout time.Duration) (*Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(loanManagerABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse loan manager abi: %w", err)
	}
	return &Reader{
		caller:   caller,
		contract: contract,
		timeout:  timeout,
		abi:      parsed,
	}, nil
}

// Dial connects to an RPC endpoint and returns a reader against it.
// The HTTP transport connects lazily; Dial itself performs no I/O.
func Dial(rpcURL string, contract common.Address, timeout time.Duration) (*Reader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return NewReader(client, contract, timeout)
}

// ReadLoan fetches the current loan snapshot for a correlation id.
func (r *Reader) ReadLoan(ctx context.Context, correlationID common.Hash) (*model.LedgerLoanView, error) {
	vals, err := r.call(ctx, "getLoan", correlationID)
	if err != nil {
		return nil, err
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("%w: getLoan returned %d values", ErrLedgerUnavailable, len(vals))
	}

	state, err := normalizeEnum(vals[0])
	if err != nil {
		return nil, fmt.Errorf("%w: loan state: %v", ErrLedgerUnavailable, err)
	}
	settlement, err := normalizeEnum(vals[1])
	if err != nil {
		return nil, fmt.Errorf("%w: settlement type: %v", ErrLedgerUnavailable, err)
	}
	amountDue, err := NormalizeBaseUnits(vals[2])
	if err != nil {
		return nil, fmt.Errorf("%w: amount due: %v", ErrLedgerUnavailable, err)
	}

	return &model.LedgerLoanView{
		State:                model.LoanState(state),
		SettlementType:       model.SettlementType(settlement),
		AmountDueOutstanding: amountDue,
	}, nil
}

// PendingProfit fetches the accrued yield available as a repayment
// discount for the loan keyed by correlation id.
func (r *Reader) PendingProfit(ctx context.Context, correlationID common.Hash) (*big.Int, error) {
	vals, err := r.call(ctx, "pendingProfit", correlationID)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("%w: pendingProfit returned %d values", ErrLedgerUnavailable, len(vals))
	}

	profit, err := NormalizeBaseUnits(vals[0])
	if err != nil {
		return nil, fmt.Errorf("%w: pending profit: %v", ErrLedgerUnavailable, err)
	}
	return profit, nil
}

func (r *Reader) call(ctx context.Context, method string, correlationID common.Hash) ([]any, error) {
	data, err := r.abi.Pack(method, correlationID)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", ErrLedgerUnavailable, method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", ErrLedgerUnavailable, method, err)
	}

	vals, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrLedgerUnavailable, method, err)
	}
	return vals, nil
}

// normalizeEnum converts a normalized numeric value into the uint8 range
// used by on-ledger enums.
func normalizeEnum(v any) (uint8, error) {
	n, err := NormalizeBaseUnits(v)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() || n.Uint64() > 255 {
		return 0, fmt.Errorf("enum value %s out of range", n)
	}
	return uint8(n.Uint64()), nil
}
