package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pavelzhukov/raylink/internal/entitlement/domain"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
)

// SQLitePaymentRepository implements domain.PaymentRepository using SQLite.
type SQLitePaymentRepository struct {
	dbConn *sql.DB
}

// NewSQLitePaymentRepository creates a new SQLite payment repository.
func NewSQLitePaymentRepository(dbConn *sql.DB) *SQLitePaymentRepository {
	return &SQLitePaymentRepository{dbConn: dbConn}
}

// executor returns the transaction from context when present, otherwise the connection.
func (r *SQLitePaymentRepository) executor(ctx context.Context) sqliteExecutor {
	if info, ok := sharedPersistence.SQLiteTxInfoFromContext(ctx); ok {
		return info.Tx
	}
	return r.dbConn
}

// Record inserts a ledger entry. The primary key on the payment reference
// turns a replayed confirmation into ErrDuplicatePaymentReference instead of
// a second row.
func (r *SQLitePaymentRepository) Record(ctx context.Context, payment *domain.PaymentRecord) error {
	query := `
		INSERT INTO payment_references (payment_ref, account_id, window_id, provider, plan_id,
			amount_minor, currency, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.executor(ctx).ExecContext(ctx, query,
		payment.PaymentRef,
		payment.AccountID.String(),
		payment.WindowID.String(),
		payment.Provider,
		payment.PlanID,
		payment.AmountMinor,
		payment.Currency,
		sharedPersistence.FormatSQLiteTime(payment.ProcessedAt),
	)
	if err != nil {
		if database.SQLiteUniqueViolation(err, "payment_references.payment_ref") {
			return domain.ErrDuplicatePaymentReference
		}
		return database.Unavailable(err)
	}
	return nil
}

// FindByRef retrieves a ledger entry by payment reference.
func (r *SQLitePaymentRepository) FindByRef(ctx context.Context, paymentRef string) (*domain.PaymentRecord, error) {
	query := `
		SELECT payment_ref, account_id, window_id, provider, plan_id, amount_minor, currency, processed_at
		FROM payment_references
		WHERE payment_ref = ?
	`
	var (
		ref         string
		accountID   string
		windowID    string
		provider    string
		planID      string
		amountMinor int64
		currency    string
		processedAt string
	)
	err := r.executor(ctx).QueryRowContext(ctx, query, paymentRef).Scan(
		&ref, &accountID, &windowID, &provider, &planID, &amountMinor, &currency, &processedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Unavailable(err)
	}

	account, _ := uuid.Parse(accountID)
	window, _ := uuid.Parse(windowID)
	processed, _ := time.Parse(time.RFC3339Nano, processedAt)

	return &domain.PaymentRecord{
		PaymentRef:  ref,
		AccountID:   account,
		WindowID:    window,
		Provider:    provider,
		PlanID:      planID,
		AmountMinor: amountMinor,
		Currency:    currency,
		ProcessedAt: processed,
	}, nil
}

// Count returns the number of recorded payments.
func (r *SQLitePaymentRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.executor(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_references`).Scan(&count)
	if err != nil {
		return 0, database.Unavailable(err)
	}
	return count, nil
}

// TotalsByCurrency sums recorded amounts grouped by currency. Amounts stay in
// minor units; mixing currencies into one figure is the caller's mistake to
// avoid.
func (r *SQLitePaymentRepository) TotalsByCurrency(ctx context.Context) (map[string]int64, error) {
	query := `
		SELECT currency, SUM(amount_minor)
		FROM payment_references
		GROUP BY currency
	`
	rows, err := r.executor(ctx).QueryContext(ctx, query)
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

var _ domain.PaymentRepository = (*SQLitePaymentRepository)(nil)
