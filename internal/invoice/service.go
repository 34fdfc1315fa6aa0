// Package invoice implements the invoice lifecycle: idempotent creation
// with EIP-712 signing, and status queries that merge locally persisted
// invoice rows with on-ledger loan state.
//
// All monetary values are integer base units internally and decimal
// strings (6 implied fraction digits) at the HTTP boundary.
package invoice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bnpl/invoice-engine/internal/auth"
	"github.com/bnpl/invoice-engine/internal/chain"
	"github.com/bnpl/invoice-engine/internal/metrics"
	"github.com/bnpl/invoice-engine/internal/model"
	"github.com/bnpl/invoice-engine/internal/money"
	"github.com/bnpl/invoice-engine/internal/reconcile"
	"github.com/bnpl/invoice-engine/internal/signing"
	"github.com/bnpl/invoice-engine/internal/store"
)

// LoanManager deployment parameters.
const (
	MerchantFeeBps     = 300
	CollateralRatioBps = 12_500
	MaxInvestBps       = 5_000
	GracePeriodSeconds = 3 * 24 * 60 * 60
)

// ErrInvalidInput marks malformed caller input (price, timestamp,
// correlation id, missing idempotency key).
var ErrInvalidInput = errors.New("invoice: invalid input")

// Service coordinates invoice creation and status queries. It holds no
// mutable state of its own; all serialization happens in the store.
type Service struct {
	store      store.Store
	reader     chain.LoanReader
	signer     *signing.Signer
	hub        *StatusHub // optional
	appBaseURL string
	now        func() time.Time
}

// NewService creates a new invoice service.
// Pass nil for hub if status broadcasting is not needed.
func NewService(st store.Store, reader chain.LoanReader, signer *signing.Signer, hub *StatusHub, appBaseURL string) *Service {
	return &Service{
		store:      st,
		reader:     reader,
		signer:     signer,
		hub:        hub,
		appBaseURL: appBaseURL,
		now:        time.Now,
	}
}

// CreateInvoiceParams are the semantically relevant creation fields.
// The idempotency key is deliberately not part of the request hash.
type CreateInvoiceParams struct {
	Price        string
	DueTimestamp int64
	Description  *string
}

// CreateInvoice validates the intent and delegates to the store's
// idempotency adapter. Correlation-id generation, signing, and fee
// computation happen only inside the build callback, never on a replay.
// The second return value reports whether a fresh invoice was created.
func (s *Service) CreateInvoice(ctx context.Context, merchant *model.Merchant, idempotencyKey string, p CreateInvoiceParams) (*model.Invoice, bool, error) {
	if idempotencyKey == "" {
		return nil, false, fmt.Errorf("%w: missing Idempotency-Key", ErrInvalidInput)
	}
	if p.DueTimestamp <= s.now().Unix() {
		return nil, false, fmt.Errorf("%w: dueTimestamp must be in the future", ErrInvalidInput)
	}

	priceBase, err := money.ParseBaseUnits(p.Price, money.BaseUnitDecimals)
	if err != nil {
		return nil, false, fmt.Errorf("%w: invalid price format (decimals=%d)", ErrInvalidInput, money.BaseUnitDecimals)
	}
	if priceBase.Sign() <= 0 {
		return nil, false, fmt.Errorf("%w: price must be > 0", ErrInvalidInput)
	}

	created := false
	inv, err := s.store.CreateInvoice(ctx, merchant.ID, idempotencyKey, requestHash(p), func(ctx context.Context) (*model.Invoice, error) {
		correlationID, err := signing.NewCorrelationID()
		if err != nil {
			return nil, err
		}

		sig, err := s.signer.SignInvoice(correlationID, merchant.WalletAddress, priceBase, uint64(p.DueTimestamp))
		if err != nil {
			return nil, err
		}

		fee := money.ApplyBps(priceBase, MerchantFeeBps)
		created = true
		return &model.Invoice{
			ID:                      uuid.New().String(),
			MerchantID:              merchant.ID,
			CorrelationID:           correlationID,
			PriceBaseUnits:          priceBase,
			DueTimestamp:            p.DueTimestamp,
			Description:             p.Description,
			Signature:               sig,
			MerchantFeeBaseUnits:    fee,
			MerchantPayoutBaseUnits: new(big.Int).Sub(priceBase, fee),
			CreatedAt:               s.now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return inv, created, nil
}

// GetStatus merges the persisted invoice with a fresh ledger snapshot.
// A failed ledger read degrades to the local-only view; it is never
// surfaced as a request failure. The read runs outside any store
// transaction and is not retried within a single request.
func (s *Service) GetStatus(ctx context.Context, inv *model.Invoice) model.MergedInvoiceStatus {
	start := time.Now()
	view, err := s.reader.ReadLoan(ctx, inv.CorrelationID)
	metrics.LedgerReadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LedgerReads.WithLabelValues("degraded").Inc()
		slog.Warn("ledger read failed, serving local-only status",
			"invoice_id", inv.ID,
			"correlation_id", inv.CorrelationID.Hex(),
			"err", err,
		)
		view = nil
	} else {
		metrics.LedgerReads.WithLabelValues("ok").Inc()
	}

	merged := reconcile.Merge(inv, view)

	if s.hub != nil && merged.Status == model.StatusPaid {
		s.hub.Broadcast(statusMessage("invoice_settled", inv, merged))
	}
	return merged
}

// requestHash digests the semantically relevant request fields.
func requestHash(p CreateInvoiceParams) string {
	payload, _ := json.Marshal(struct {
		Price        string  `json:"price"`
		DueTimestamp int64   `json:"dueTimestamp"`
		Description  *string `json:"description"`
	}{p.Price, p.DueTimestamp, p.Description})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// --- Request/Response types ---

// CreateInvoiceRequest is the JSON body for POST /api/merchant/invoices.
type CreateInvoiceRequest struct {
	Price        string  `json:"price"`
	DueTimestamp int64   `json:"dueTimestamp"`
	Description  *string `json:"description,omitempty"`
}

// CreateInvoiceResponse is returned from invoice creation (fresh or replayed).
type CreateInvoiceResponse struct {
	InvoiceID      string `json:"invoiceId"`
	CorrelationID  string `json:"correlationId"`
	CheckoutURL    string `json:"checkoutUrl"`
	MerchantFee    string `json:"merchantFee"`
	MerchantPayout string `json:"merchantPayout"`
	DueTimestamp   int64  `json:"dueTimestamp"`
}

// InvoiceStatusResponse is the merged status projection returned from
// the merchant status endpoints. AmountDueOutstanding is base units and
// null when the ledger read failed.
type InvoiceStatusResponse struct {
	InvoiceID            string  `json:"invoiceId"`
	CorrelationID        string  `json:"correlationId"`
	Price                string  `json:"price"`
	DueTimestamp         int64   `json:"dueTimestamp"`
	Status               string  `json:"status"`
	SettlementType       *string `json:"settlementType"`
	AmountDueOutstanding *string `json:"amountDueOutstanding"`
}

// PublicInvoiceData is the signed tuple the buyer wallet submits to the
// LoanManager to open the loan, plus the collateral it must lock.
type PublicInvoiceData struct {
	CorrelationID      string `json:"correlationId"`
	Merchant           string `json:"merchant"`
	Price              string `json:"price"`        // base units
	DueTimestamp       string `json:"dueTimestamp"` // unix seconds, decimal string
	CollateralRequired string `json:"collateralRequired"` // base units
}

// PublicInvoiceResponse is the unauthenticated checkout payload.
type PublicInvoiceResponse struct {
	InvoiceID     string            `json:"invoiceId"`
	CorrelationID string            `json:"correlationId"`
	InvoiceData   PublicInvoiceData `json:"invoiceData"`
	Signature     string            `json:"signature"`
}

// RepayPreviewResponse is the advisory checkout-side repay projection.
// PendingProfit is null when the ledger read failed; the preview then
// assumes zero discount rather than overstating it.
type RepayPreviewResponse struct {
	CorrelationID     string  `json:"correlationId"`
	PendingProfit     *string `json:"pendingProfit"`
	DiscountApplied   string  `json:"discountApplied"`
	BorrowerPayAmount string  `json:"borrowerPayAmount"`
}

// --- HTTP Handlers ---

// HandleCreateInvoice handles POST /api/merchant/invoices.
func (s *Service) HandleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing merchant")
		return
	}

	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	inv, created, err := s.CreateInvoice(r.Context(), merchant, idempotencyKey, CreateInvoiceParams{
		Price:        req.Price,
		DueTimestamp: req.DueTimestamp,
		Description:  req.Description,
	})
	if err != nil {
		s.writeCreateError(w, err)
		return
	}

	if created {
		metrics.InvoicesCreated.Inc()
		slog.Info("invoice created",
			"invoice_id", inv.ID,
			"merchant", merchant.ID,
			"correlation_id", inv.CorrelationID.Hex(),
			"price", money.FormatBaseUnits(inv.PriceBaseUnits, money.BaseUnitDecimals),
			"due", inv.DueTimestamp,
		)
		if s.hub != nil {
			s.hub.Broadcast(statusMessage("invoice_created", inv, model.MergedInvoiceStatus{Status: model.StatusCreated}))
		}
	} else {
		metrics.IdempotentReplays.Inc()
	}

	writeJSON(w, http.StatusOK, CreateInvoiceResponse{
		InvoiceID:      inv.ID,
		CorrelationID:  inv.CorrelationID.Hex(),
		CheckoutURL:    fmt.Sprintf("%s/checkout/%s", s.appBaseURL, inv.CorrelationID.Hex()),
		MerchantFee:    money.FormatBaseUnits(inv.MerchantFeeBaseUnits, money.BaseUnitDecimals),
		MerchantPayout: money.FormatBaseUnits(inv.MerchantPayoutBaseUnits, money.BaseUnitDecimals),
		DueTimestamp:   inv.DueTimestamp,
	})
}

func (s *Service) writeCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", userMessage(err))
	case errors.Is(err, store.ErrConflict):
		metrics.IdempotencyConflicts.Inc()
		writeError(w, http.StatusConflict, "CONFLICT", "Idempotency-Key conflict")
	default:
		slog.Error("invoice creation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error")
	}
}

// HandleGetInvoice handles GET /api/merchant/invoices/{invoiceID}.
func (s *Service) HandleGetInvoice(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing merchant")
		return
	}

	inv, err := s.store.GetInvoice(r.Context(), merchant.ID, chi.URLParam(r, "invoiceID"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	s.writeStatus(w, r, inv)
}

// HandleGetInvoiceByCorrelation handles
// GET /api/merchant/invoices/by-correlation/{correlationID}.
func (s *Service) HandleGetInvoiceByCorrelation(w http.ResponseWriter, r *http.Request) {
	merchant, ok := auth.MerchantFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing merchant")
		return
	}

	correlationID, err := signing.ParseCorrelationID(chi.URLParam(r, "correlationID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid correlationId (bytes32 hex)")
		return
	}

	inv, err := s.store.GetInvoiceByCorrelation(r.Context(), merchant.ID, correlationID)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	s.writeStatus(w, r, inv)
}

func (s *Service) writeStatus(w http.ResponseWriter, r *http.Request, inv *model.Invoice) {
	merged := s.GetStatus(r.Context(), inv)

	var amountDue *string
	if merged.AmountDueOutstanding != nil {
		v := merged.AmountDueOutstanding.String()
		amountDue = &v
	}

	writeJSON(w, http.StatusOK, InvoiceStatusResponse{
		InvoiceID:            inv.ID,
		CorrelationID:        inv.CorrelationID.Hex(),
		Price:                money.FormatBaseUnits(inv.PriceBaseUnits, money.BaseUnitDecimals),
		DueTimestamp:         inv.DueTimestamp,
		Status:               string(merged.Status),
		SettlementType:       merged.SettlementType,
		AmountDueOutstanding: amountDue,
	})
}

// HandlePublicInvoice handles
// GET /api/public/invoices/by-correlation/{correlationID}.
// Unauthenticated: the correlation id itself is the capability.
func (s *Service) HandlePublicInvoice(w http.ResponseWriter, r *http.Request) {
	correlationID, err := signing.ParseCorrelationID(chi.URLParam(r, "correlationID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid correlationId (bytes32 hex)")
		return
	}

	inv, err := s.store.GetInvoiceByCorrelationPublic(r.Context(), correlationID)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	merchant, err := s.store.GetMerchant(r.Context(), inv.MerchantID)
	if err != nil {
		slog.Error("merchant missing for invoice", "invoice_id", inv.ID, "merchant", inv.MerchantID, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, PublicInvoiceResponse{
		InvoiceID:     inv.ID,
		CorrelationID: inv.CorrelationID.Hex(),
		InvoiceData: PublicInvoiceData{
			CorrelationID:      inv.CorrelationID.Hex(),
			Merchant:           merchant.WalletAddress.Hex(),
			Price:              inv.PriceBaseUnits.String(),
			DueTimestamp:       fmt.Sprintf("%d", inv.DueTimestamp),
			CollateralRequired: money.ApplyBps(inv.PriceBaseUnits, CollateralRatioBps).String(),
		},
		Signature: hexutil.Encode(inv.Signature),
	})
}

// HandleRepayPreview handles
// GET /api/public/invoices/by-correlation/{correlationID}/repay-preview?amount=<decimal>.
// The preview is advisory only; settlement amounts are authoritative on
// the ledger.
func (s *Service) HandleRepayPreview(w http.ResponseWriter, r *http.Request) {
	correlationID, err := signing.ParseCorrelationID(chi.URLParam(r, "correlationID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid correlationId (bytes32 hex)")
		return
	}

	if _, err := s.store.GetInvoiceByCorrelationPublic(r.Context(), correlationID); err != nil {
		s.writeLookupError(w, err)
		return
	}

	amount, err := money.ParseBaseUnits(r.URL.Query().Get("amount"), money.BaseUnitDecimals)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "amount must be a positive decimal (decimals=6)")
		return
	}

	var pendingProfit *string
	profit, err := s.reader.PendingProfit(r.Context(), correlationID)
	if err != nil {
		slog.Warn("pending profit read failed, previewing zero discount",
			"correlation_id", correlationID.Hex(), "err", err)
		profit = nil
	} else {
		v := profit.String()
		pendingProfit = &v
	}

	preview, err := reconcile.PreviewRepay(profit, amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "amount must be a positive decimal (decimals=6)")
		return
	}

	writeJSON(w, http.StatusOK, RepayPreviewResponse{
		CorrelationID:     correlationID.Hex(),
		PendingProfit:     pendingProfit,
		DiscountApplied:   preview.DiscountApplied.String(),
		BorrowerPayAmount: preview.BorrowerPayAmount.String(),
	})
}

func (s *Service) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Invoice not found")
		return
	}
	slog.Error("invoice lookup failed", "err", err)
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error")
}

func statusMessage(msgType string, inv *model.Invoice, merged model.MergedInvoiceStatus) StatusMessage {
	var amountDue string
	if merged.AmountDueOutstanding != nil {
		amountDue = merged.AmountDueOutstanding.String()
	}
	return StatusMessage{
		Type:                 msgType,
		InvoiceID:            inv.ID,
		CorrelationID:        inv.CorrelationID.Hex(),
		Status:               string(merged.Status),
		SettlementType:       merged.SettlementType,
		AmountDueOutstanding: amountDue,
	}
}

// userMessage strips the sentinel prefix from ErrInvalidInput wrappers.
func userMessage(err error) string {
	msg := err.Error()
	if idx := len(ErrInvalidInput.Error()) + 2; len(msg) > idx {
		return msg[idx:]
	}
	return msg
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
