package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pavelzhukov/raylink/internal/payments/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"
)

const pgSelectInvoice = `
	SELECT id, account_id, provider, provider_invoice_id, plan_id, server_id,
	       amount_minor, currency, status, payment_ref, pay_url, created_at, updated_at
	FROM invoices
`

// PostgresInvoiceRepository implements domain.InvoiceRepository using PostgreSQL.
type PostgresInvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresInvoiceRepository creates a new PostgreSQL invoice repository.
func NewPostgresInvoiceRepository(pool *pgxpool.Pool) *PostgresInvoiceRepository {
	return &PostgresInvoiceRepository{pool: pool}
}

// Insert stores a new invoice.
func (r *PostgresInvoiceRepository) Insert(ctx context.Context, invoice *domain.Invoice) error {
	query := `
		INSERT INTO invoices (id, account_id, provider, provider_invoice_id, plan_id, server_id,
		                      amount_minor, currency, status, payment_ref, pay_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	_, err := exec.Exec(ctx, query,
		invoice.ID(),
		invoice.AccountID(),
		invoice.Provider(),
		invoice.ProviderInvoiceID(),
		invoice.PlanID(),
		invoice.ServerID(),
		invoice.AmountMinor(),
		invoice.Currency(),
		string(invoice.Status()),
		invoice.PaymentRef(),
		invoice.PayURL(),
		invoice.CreatedAt(),
		invoice.UpdatedAt(),
	)
	if err != nil {
		if database.PgUniqueViolation(err, "invoices_provider_provider_invoice_id_key") {
			return domain.ErrInvoiceExists
		}
		return database.Unavailable(err)
	}
	return nil
}

// FindByID retrieves an invoice by its identifier.
func (r *PostgresInvoiceRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	query := pgSelectInvoice + `WHERE id = $1`
	exec := sharedPersistence.Executor(ctx, r.pool)
	return r.scanInvoice(exec.QueryRow(ctx, query, id))
}

// FindByProviderRef retrieves an invoice by the provider's own identifier.
func (r *PostgresInvoiceRepository) FindByProviderRef(ctx context.Context, provider, providerInvoiceID string) (*domain.Invoice, error) {
	query := pgSelectInvoice + `WHERE provider = $1 AND provider_invoice_id = $2`
	exec := sharedPersistence.Executor(ctx, r.pool)
	return r.scanInvoice(exec.QueryRow(ctx, query, provider, providerInvoiceID))
}

// ListPending returns pending invoices, oldest first.
func (r *PostgresInvoiceRepository) ListPending(ctx context.Context, limit int) ([]*domain.Invoice, error) {
	query := pgSelectInvoice + `WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`
	exec := sharedPersistence.Executor(ctx, r.pool)

	rows, err := exec.Query(ctx, query, limit)
	if err != nil {
		return nil, database.Unavailable(err)
	}
	defer rows.Close()

	var invoices []*domain.Invoice
	for rows.Next() {
		invoice, err := r.scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable(err)
	}
	return invoices, nil
}

// MarkSettled closes a pending invoice with its verified payment reference.
func (r *PostgresInvoiceRepository) MarkSettled(ctx context.Context, id uuid.UUID, paymentRef string, now time.Time) (bool, error) {
	query := `
		UPDATE invoices
		SET status = 'settled', payment_ref = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	tag, err := exec.Exec(ctx, query, id, paymentRef, now)
	if err != nil {
		return false, database.Unavailable(err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkExpired closes a pending invoice that lapsed unpaid.
func (r *PostgresInvoiceRepository) MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	query := `
		UPDATE invoices
		SET status = 'expired', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	tag, err := exec.Exec(ctx, query, id, now)
	if err != nil {
		return false, database.Unavailable(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresInvoiceRepository) scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var (
		id                uuid.UUID
		accountID         uuid.UUID
		provider          string
		providerInvoiceID string
		planID            string
		serverID          string
		amountMinor       int64
		currency          string
		status            string
		paymentRef        string
		payURL            string
		createdAt         time.Time
		updatedAt         time.Time
	)
	err := row.Scan(&id, &accountID, &provider, &providerInvoiceID, &planID, &serverID,
		&amountMinor, &currency, &status, &paymentRef, &payURL, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Unavailable(err)
	}

	return domain.RehydrateInvoice(id, accountID, provider, providerInvoiceID, planID, serverID,
		amountMinor, currency, domain.Status(status), paymentRef, payURL, createdAt, updatedAt), nil
}
