package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pavelzhukov/raylink/internal/payments/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"
)

const sqliteSelectInvoice = `
	SELECT id, account_id, provider, provider_invoice_id, plan_id, server_id,
	       amount_minor, currency, status, payment_ref, pay_url, created_at, updated_at
	FROM invoices
`

// SQLiteInvoiceRepository implements domain.InvoiceRepository using SQLite.
type SQLiteInvoiceRepository struct {
	dbConn *sql.DB
}

// NewSQLiteInvoiceRepository creates a new SQLite invoice repository.
func NewSQLiteInvoiceRepository(dbConn *sql.DB) *SQLiteInvoiceRepository {
	return &SQLiteInvoiceRepository{dbConn: dbConn}
}

// executor returns the transaction from context when present, otherwise the connection.
func (r *SQLiteInvoiceRepository) executor(ctx context.Context) sqliteExecutor {
	if info, ok := sharedPersistence.SQLiteTxInfoFromContext(ctx); ok {
		return info.Tx
	}
	return r.dbConn
}

// Insert stores a new invoice.
func (r *SQLiteInvoiceRepository) Insert(ctx context.Context, invoice *domain.Invoice) error {
	query := `
		INSERT INTO invoices (id, account_id, provider, provider_invoice_id, plan_id, server_id,
		                      amount_minor, currency, status, payment_ref, pay_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.executor(ctx).ExecContext(ctx, query,
		invoice.ID().String(),
		invoice.AccountID().String(),
		invoice.Provider(),
		invoice.ProviderInvoiceID(),
		invoice.PlanID(),
		invoice.ServerID(),
		invoice.AmountMinor(),
		invoice.Currency(),
		string(invoice.Status()),
		invoice.PaymentRef(),
		invoice.PayURL(),
		sharedPersistence.FormatSQLiteTime(invoice.CreatedAt()),
		sharedPersistence.FormatSQLiteTime(invoice.UpdatedAt()),
	)
	if err != nil {
		if database.SQLiteUniqueViolation(err, "invoices.provider") {
			return domain.ErrInvoiceExists
		}
		return database.Unavailable(err)
	}
	return nil
}

// FindByID retrieves an invoice by its identifier.
func (r *SQLiteInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	query := sqliteSelectInvoice + `WHERE id = ?`
	row := r.executor(ctx).QueryRowContext(ctx, query, id.String())
	return r.scanInvoiceRow(row)
}

// FindByProviderRef retrieves an invoice by the provider's own identifier.
func (r *SQLiteInvoiceRepository) FindByProviderRef(ctx context.Context, provider, providerInvoiceID string) (*domain.Invoice, error) {
	query := sqliteSelectInvoice + `WHERE provider = ? AND provider_invoice_id = ?`
	row := r.executor(ctx).QueryRowContext(ctx, query, provider, providerInvoiceID)
	return r.scanInvoiceRow(row)
}

// ListPending returns pending invoices, oldest first.
func (r *SQLiteInvoiceRepository) ListPending(ctx context.Context, limit int) ([]*domain.Invoice, error) {
	query := sqliteSelectInvoice + `WHERE status = 'pending' ORDER BY created_at ASC LIMIT ?`
	rows, err := r.executor(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, database.Unavailable(err)
	}
	defer rows.Close()

	var invoices []*domain.Invoice
	for rows.Next() {
		invoice, err := r.scanInvoiceColumns(rows.Scan)
		if err != nil {
			return nil, database.Unavailable(err)
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable(err)
	}
	return invoices, nil
}

// MarkSettled closes a pending invoice with its verified payment reference.
func (r *SQLiteInvoiceRepository) MarkSettled(ctx context.Context, id uuid.UUID, paymentRef string, now time.Time) (bool, error) {
	query := `
		UPDATE invoices
		SET status = 'settled', payment_ref = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`
	result, err := r.executor(ctx).ExecContext(ctx, query,
		paymentRef,
		sharedPersistence.FormatSQLiteTime(now),
		id.String(),
	)
	if err != nil {
		return false, database.Unavailable(err)
	}
	settled, err := result.RowsAffected()
	if err != nil {
		return false, database.Unavailable(err)
	}
	return settled > 0, nil
}

// MarkExpired closes a pending invoice that lapsed unpaid.
func (r *SQLiteInvoiceRepository) MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE invoices
		SET status = 'expired', updated_at = ?
		WHERE id = ? AND status = 'pending'
	`
	result, err := r.executor(ctx).ExecContext(ctx, query,
		sharedPersistence.FormatSQLiteTime(now),
		id.String(),
	)
	if err != nil {
		return false, database.Unavailable(err)
	}
	expired, err := result.RowsAffected()
	if err != nil {
		return false, database.Unavailable(err)
	}
	return expired > 0, nil
}

func (r *SQLiteInvoiceRepository) scanInvoiceRow(row *sql.Row) (*domain.Invoice, error) {
	invoice, err := r.scanInvoiceColumns(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Unavailable(err)
	}
	return invoice, nil
}

func (r *SQLiteInvoiceRepository) scanInvoiceColumns(scan func(dest ...any) error) (*domain.Invoice, error) {
	var (
		id                string
		accountID         string
		provider          string
		providerInvoiceID string
		planID            string
		serverID          string
		amountMinor       int64
		currency          string
		status            string
		paymentRef        string
		payURL            string
		createdAt         string
		updatedAt         string
	)
	if err := scan(&id, &accountID, &provider, &providerInvoiceID, &planID, &serverID,
		&amountMinor, &currency, &status, &paymentRef, &payURL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	invoiceID, _ := uuid.Parse(id)
	account, _ := uuid.Parse(accountID)
	created, _ := time.Parse(time.RFC3339Nano, createdAt)
	updated, _ := time.Parse(time.RFC3339Nano, updatedAt)

	return domain.RehydrateInvoice(invoiceID, account, provider, providerInvoiceID, planID, serverID,
		amountMinor, currency, domain.Status(status), paymentRef, payURL, created, updated), nil
}

var _ domain.InvoiceRepository = (*SQLiteInvoiceRepository)(nil)

type sqliteExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
