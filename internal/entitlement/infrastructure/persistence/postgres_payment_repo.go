package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPaymentRepository implements domain.PaymentRepository using PostgreSQL.
type PostgresPaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPaymentRepository creates a new PostgreSQL payment repository.
func NewPostgresPaymentRepository(pool *pgxpool.Pool) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{pool: pool}
}

// Record inserts a ledger entry. The primary key on the payment reference
// turns a replayed confirmation into ErrDuplicatePaymentReference instead of
// a second row.
func (r *PostgresPaymentRepository) Record(ctx context.Context, payment *domain.PaymentRecord) error {
	query := `
		INSERT INTO payment_references (payment_ref, account_id, window_id, provider, plan_id,
			amount_minor, currency, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	_, err := exec.Exec(ctx, query,
		payment.PaymentRef,
		payment.AccountID,
		payment.WindowID,
		payment.Provider,
		payment.PlanID,
		payment.AmountMinor,
		payment.Currency,
		payment.ProcessedAt,
	)
	if err != nil {
		if database.PgUniqueViolation(err, "payment_references_pkey") {
			return domain.ErrDuplicatePaymentReference
		}
		return database.Unavailable(err)
	}
	return nil
}

// FindByRef retrieves a ledger entry by payment reference.
func (r *PostgresPaymentRepository) FindByRef(ctx context.Context, paymentRef string) (*domain.PaymentRecord, error) {
	query := `
		SELECT payment_ref, account_id, window_id, provider, plan_id, amount_minor, currency, processed_at
		FROM payment_references
		WHERE payment_ref = $1
	`
	exec := sharedPersistence.Executor(ctx, r.pool)

	var (
		ref         string
		accountID   uuid.UUID
		windowID    uuid.UUID
		provider    string
		planID      string
		amountMinor int64
		currency    string
		processedAt time.Time
	)
	err := exec.QueryRow(ctx, query, paymentRef).Scan(
		&ref, &accountID, &windowID, &provider, &planID, &amountMinor, &currency, &processedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Unavailable(err)
	}

	return &domain.PaymentRecord{
		PaymentRef:  ref,
		AccountID:   accountID,
		WindowID:    windowID,
		Provider:    provider,
		PlanID:      planID,
		AmountMinor: amountMinor,
		Currency:    currency,
		ProcessedAt: processedAt,
	}, nil
}

// Count returns the number of recorded payments.
func (r *PostgresPaymentRepository) Count(ctx context.Context) (int64, error) {
	exec := sharedPersistence.Executor(ctx, r.pool)
	var count int64
	if err := exec.QueryRow(ctx, `SELECT COUNT(*) FROM payment_references`).Scan(&count); err != nil {
		return 0, database.Unavailable(err)
	}
	return count, nil
}

// TotalsByCurrency sums recorded amounts grouped by currency. Amounts stay in
// minor units; mixing currencies into one figure is the caller's mistake to
// avoid.
func (r *PostgresPaymentRepository) TotalsByCurrency(ctx context.Context) (map[string]int64, error) {
	query := `
		SELECT currency, SUM(amount_minor)
		FROM payment_references
		GROUP BY currency
	`
	exec := sharedPersistence.Executor(ctx, r.pool)
	rows, err := exec.Query(ctx, query)
	if err != nil {
		return nil, database.Unavailable(err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var currency string
		var total int64
		if err := rows.Scan(&currency, &total); err != nil {
			return nil, database.Unavailable(err)
		}
		totals[currency] = total
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable(err)
	}
	return totals, nil
}
