// Package model defines the core domain types shared across the invoice
// engine. All monetary values are integer base units (6 implied decimals)
// held in *big.Int — never float64 for money.
package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Merchant is an API client that issues invoices. The API key is stored
// only as a SHA-256 hash.
type Merchant struct {
	ID            string         `json:"id" db:"id"`
	Name          string         `json:"name" db:"name"`
	WalletAddress common.Address `json:"wallet_address" db:"wallet_address"`
	APIKeyHash    string         `json:"-" db:"api_key_hash"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// Invoice is an immutable record of a signed payment request.
// Once created, invoices are never modified or deleted (audit requirement).
type Invoice struct {
	ID                      string      `json:"id" db:"id"`
	MerchantID              string      `json:"merchant_id" db:"merchant_id"`
	CorrelationID           common.Hash `json:"correlation_id" db:"correlation_id"`
	PriceBaseUnits          *big.Int    `json:"price_base_units" db:"price_base_units"`
	DueTimestamp            int64       `json:"due_timestamp" db:"due_timestamp"` // unix seconds
	Description             *string     `json:"description,omitempty" db:"description"`
	Signature               []byte      `json:"signature" db:"signature"` // EIP-712, 65 bytes r||s||v
	MerchantFeeBaseUnits    *big.Int    `json:"merchant_fee_base_units" db:"merchant_fee_base_units"`
	MerchantPayoutBaseUnits *big.Int    `json:"merchant_payout_base_units" db:"merchant_payout_base_units"`
	CreatedAt               time.Time   `json:"created_at" db:"created_at"`
}

// IdempotencyRecord links a (merchant, idempotency key) pair to the one
// invoice it produced. Created atomically with its invoice, never mutated.
type IdempotencyRecord struct {
	MerchantID  string    `json:"merchant_id" db:"merchant_id"`
	Key         string    `json:"key" db:"key"`
	RequestHash string    `json:"request_hash" db:"request_hash"`
	InvoiceID   string    `json:"invoice_id" db:"invoice_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// LoanState is the on-ledger lifecycle state of a loan.
type LoanState uint8

const (
	LoanStateCreated LoanState = 0
	LoanStateOpened  LoanState = 1
	LoanStateSettled LoanState = 2
)

// SettlementType describes how a settled loan was closed.
// Meaningful only when the loan state is LoanStateSettled.
type SettlementType uint8

const (
	SettlementNone       SettlementType = 0
	SettlementRepaid     SettlementType = 1
	SettlementLiquidated SettlementType = 2
)

// LedgerLoanView is an ephemeral snapshot of on-ledger loan state, keyed
// by correlation id. It may be stale or unavailable; its absence must
// never erase or corrupt the persisted invoice.
type LedgerLoanView struct {
	State          LoanState
	SettlementType SettlementType
	// AmountDueOutstanding is nil when the ledger did not report a value.
	AmountDueOutstanding *big.Int
}

// InvoiceStatus is the borrower/merchant-facing status projection.
type InvoiceStatus string

const (
	StatusCreated    InvoiceStatus = "created"
	StatusLoanOpened InvoiceStatus = "loan_opened"
	StatusPaid       InvoiceStatus = "paid"
)

// Settlement labels used in the merged status projection.
const (
	SettlementLabelRepaid     = "repaid"
	SettlementLabelLiquidated = "liquidated"
)

// MergedInvoiceStatus combines a persisted invoice with a ledger snapshot.
// SettlementType is set only when Status is StatusPaid; AmountDueOutstanding
// is nil when the ledger read failed or reported nothing.
type MergedInvoiceStatus struct {
	Status               InvoiceStatus
	SettlementType       *string
	AmountDueOutstanding *big.Int
}
