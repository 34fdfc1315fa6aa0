// Package reconcile merges authoritative but latency-bearing on-ledger
// loan state with the locally persisted invoice into one status
// projection, and derives the borrower-facing repayment preview. Both
// operations are pure functions with no I/O.
package reconcile

import (
	"errors"
	"log/slog"
	"math/big"

	"github.com/bnpl/invoice-engine/internal/model"
)

// ErrInvalidRepayAmount is returned when a repay preview is requested
// for a non-positive amount.
var ErrInvalidRepayAmount = errors.New("reconcile: repay amount must be positive")

// Merge projects an invoice plus a ledger snapshot into a
// MergedInvoiceStatus. A nil loan view means the ledger read failed; the
// status degrades to the best known local value (created) rather than
// failing the request. The state mapping is exhaustive; an unrecognized
// state is a data-integrity fault that is logged loudly and degraded to
// created in the response.
func Merge(inv *model.Invoice, loan *model.LedgerLoanView) model.MergedInvoiceStatus {
	if loan == nil {
		return model.MergedInvoiceStatus{Status: model.StatusCreated}
	}

	switch loan.State {
	case model.LoanStateCreated:
		return model.MergedInvoiceStatus{
			Status:               model.StatusCreated,
			AmountDueOutstanding: copyAmount(loan.AmountDueOutstanding),
		}

	case model.LoanStateOpened:
		return model.MergedInvoiceStatus{
			Status:               model.StatusLoanOpened,
			AmountDueOutstanding: copyAmount(loan.AmountDueOutstanding),
		}

	case model.LoanStateSettled:
		return model.MergedInvoiceStatus{
			Status:               model.StatusPaid,
			SettlementType:       settlementLabel(inv, loan.SettlementType),
			AmountDueOutstanding: copyAmount(loan.AmountDueOutstanding),
		}

	default:
		slog.Error("unrecognized on-ledger loan state",
			"state", uint8(loan.State),
			"invoice_id", inv.ID,
			"correlation_id", inv.CorrelationID.Hex(),
		)
		return model.MergedInvoiceStatus{Status: model.StatusCreated}
	}
}

func settlementLabel(inv *model.Invoice, st model.SettlementType) *string {
	switch st {
	case model.SettlementRepaid:
		label := model.SettlementLabelRepaid
		return &label
	case model.SettlementLiquidated:
		label := model.SettlementLabelLiquidated
		return &label
	case model.SettlementNone:
		return nil
	default:
		slog.Error("unrecognized settlement type on settled loan",
			"settlement_type", uint8(st),
			"invoice_id", inv.ID,
			"correlation_id", inv.CorrelationID.Hex(),
		)
		return nil
	}
}

func copyAmount(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// RepayPreview is the advisory checkout-side projection of a repayment.
// It is a preview, not a commitment: final settlement amounts are
// authoritative on the ledger.
type RepayPreview struct {
	DiscountApplied   *big.Int
	BorrowerPayAmount *big.Int
}

// PreviewRepay computes the discount applied and the amount the borrower
// pays out of pocket for a requested repayment. A nil pendingProfit is
// treated as zero accrued yield. borrowerPayAmount is never negative.
func PreviewRepay(pendingProfit, requestedRepayAmount *big.Int) (*RepayPreview, error) {
	if requestedRepayAmount == nil || requestedRepayAmount.Sign() <= 0 {
		return nil, ErrInvalidRepayAmount
	}
	if pendingProfit != nil && pendingProfit.Sign() < 0 {
		return nil, ErrInvalidRepayAmount
	}

	profit := big.NewInt(0)
	if pendingProfit != nil {
		profit = pendingProfit
	}

	discount := new(big.Int).Set(profit)
	if discount.Cmp(requestedRepayAmount) > 0 {
		discount.Set(requestedRepayAmount)
	}

	return &RepayPreview{
		DiscountApplied:   discount,
		BorrowerPayAmount: new(big.Int).Sub(requestedRepayAmount, discount),
	}, nil
}
