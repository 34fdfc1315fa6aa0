package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bnpl/invoice-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact base-unit precision.
// The (merchant_id, key) primary key on idempotency_keys is the uniqueness
// invariant that serializes concurrent creations across instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS merchants (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			wallet_address TEXT NOT NULL,
			api_key_hash   TEXT NOT NULL UNIQUE,
			created_at     TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS invoices (
			id                         TEXT PRIMARY KEY,
			merchant_id                TEXT NOT NULL REFERENCES merchants(id),
			correlation_id             TEXT NOT NULL UNIQUE,
			price_base_units           NUMERIC NOT NULL,
			due_timestamp              BIGINT NOT NULL,
			description                TEXT,
			signature                  BYTEA NOT NULL,
			merchant_fee_base_units    NUMERIC NOT NULL,
			merchant_payout_base_units NUMERIC NOT NULL,
			created_at                 TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS invoices_merchant_idx ON invoices (merchant_id);

		CREATE TABLE IF NOT EXISTS idempotency_keys (
			merchant_id  TEXT NOT NULL REFERENCES merchants(id),
			key          TEXT NOT NULL,
			request_hash TEXT NOT NULL,
			invoice_id   TEXT NOT NULL REFERENCES invoices(id),
			created_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (merchant_id, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// querier is satisfied by both pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) CreateInvoice(ctx context.Context, merchantID, idempotencyKey, requestHash string, build BuildInvoiceFunc) (*model.Invoice, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin create invoice: %w", err)
	}
	defer tx.Rollback(ctx)

	var storedHash, invoiceID string
	err = tx.QueryRow(ctx,
		`SELECT request_hash, invoice_id FROM idempotency_keys
		 WHERE merchant_id = $1 AND key = $2`,
		merchantID, idempotencyKey).Scan(&storedHash, &invoiceID)
	switch {
	case err == nil:
		if storedHash != requestHash {
			return nil, ErrConflict
		}
		return getInvoiceByID(ctx, tx, invoiceID)
	case errors.Is(err, pgx.ErrNoRows):
		// Fresh creation path below.
	default:
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	inv, err := build(ctx)
	if err != nil {
		return nil, err
	}

	if err := insertInvoice(ctx, tx, inv); err != nil {
		if isUniqueViolation(err) {
			// Another instance raced us on the correlation id; replay below.
			return s.replayWinner(ctx, merchantID, idempotencyKey, requestHash)
		}
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO idempotency_keys (merchant_id, key, request_hash, invoice_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		merchantID, idempotencyKey, requestHash, inv.ID, inv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the insert race: the winner's row is now committed.
			return s.replayWinner(ctx, merchantID, idempotencyKey, requestHash)
		}
		return nil, fmt.Errorf("insert idempotency key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create invoice: %w", err)
	}
	return inv, nil
}

// replayWinner resolves a lost creation race by reading the committed
// winner's idempotency row outside the aborted transaction.
func (s *PostgresStore) replayWinner(ctx context.Context, merchantID, idempotencyKey, requestHash string) (*model.Invoice, error) {
	var storedHash, invoiceID string
	err := s.pool.QueryRow(ctx,
		`SELECT request_hash, invoice_id FROM idempotency_keys
		 WHERE merchant_id = $1 AND key = $2`,
		merchantID, idempotencyKey).Scan(&storedHash, &invoiceID)
	if err != nil {
		return nil, fmt.Errorf("replay idempotency key: %w", err)
	}
	if storedHash != requestHash {
		return nil, ErrConflict
	}
	return getInvoiceByID(ctx, s.pool, invoiceID)
}

func (s *PostgresStore) GetInvoice(ctx context.Context, merchantID, invoiceID string) (*model.Invoice, error) {
	return scanInvoice(s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 AND merchant_id = $2`,
		invoiceID, merchantID))
}

func (s *PostgresStore) GetInvoiceByCorrelation(ctx context.Context, merchantID string, correlationID common.Hash) (*model.Invoice, error) {
	return scanInvoice(s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE correlation_id = $1 AND merchant_id = $2`,
		correlationID.Hex(), merchantID))
}

func (s *PostgresStore) GetInvoiceByCorrelationPublic(ctx context.Context, correlationID common.Hash) (*model.Invoice, error) {
	return scanInvoice(s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE correlation_id = $1`,
		correlationID.Hex()))
}

func (s *PostgresStore) CreateMerchant(ctx context.Context, m *model.Merchant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO merchants (id, name, wallet_address, api_key_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.Name, m.WalletAddress.Hex(), m.APIKeyHash, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert merchant: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMerchant(ctx context.Context, id string) (*model.Merchant, error) {
	return scanMerchant(s.pool.QueryRow(ctx,
		`SELECT id, name, wallet_address, api_key_hash, created_at FROM merchants WHERE id = $1`, id))
}

func (s *PostgresStore) GetMerchantByAPIKeyHash(ctx context.Context, apiKeyHash string) (*model.Merchant, error) {
	return scanMerchant(s.pool.QueryRow(ctx,
		`SELECT id, name, wallet_address, api_key_hash, created_at FROM merchants WHERE api_key_hash = $1`, apiKeyHash))
}

// --- Row helpers ---

const invoiceColumns = `id, merchant_id, correlation_id,
	price_base_units::TEXT, due_timestamp, description, signature,
	merchant_fee_base_units::TEXT, merchant_payout_base_units::TEXT, created_at`

func insertInvoice(ctx context.Context, q querier, inv *model.Invoice) error {
	_, err := q.Exec(ctx,
		`INSERT INTO invoices (id, merchant_id, correlation_id, price_base_units,
		                       due_timestamp, description, signature,
		                       merchant_fee_base_units, merchant_payout_base_units, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10)`,
		inv.ID, inv.MerchantID, inv.CorrelationID.Hex(), inv.PriceBaseUnits.String(),
		inv.DueTimestamp, inv.Description, inv.Signature,
		inv.MerchantFeeBaseUnits.String(), inv.MerchantPayoutBaseUnits.String(), inv.CreatedAt)
	return err
}

func getInvoiceByID(ctx context.Context, q querier, invoiceID string) (*model.Invoice, error) {
	return scanInvoice(q.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID))
}

func scanInvoice(row pgx.Row) (*model.Invoice, error) {
	var inv model.Invoice
	var correlationID, price, fee, payout string

	err := row.Scan(&inv.ID, &inv.MerchantID, &correlationID,
		&price, &inv.DueTimestamp, &inv.Description, &inv.Signature,
		&fee, &payout, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan invoice: %w", err)
	}

	inv.CorrelationID = common.HexToHash(correlationID)
	if inv.PriceBaseUnits, err = parseNumeric(price); err != nil {
		return nil, err
	}
	if inv.MerchantFeeBaseUnits, err = parseNumeric(fee); err != nil {
		return nil, err
	}
	if inv.MerchantPayoutBaseUnits, err = parseNumeric(payout); err != nil {
		return nil, err
	}
	return &inv, nil
}

func scanMerchant(row pgx.Row) (*model.Merchant, error) {
	var m model.Merchant
	var wallet string

	err := row.Scan(&m.ID, &m.Name, &wallet, &m.APIKeyHash, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan merchant: %w", err)
	}

	m.WalletAddress = common.HexToAddress(wallet)
	return &m, nil
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric column value %q", s)
	}
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
