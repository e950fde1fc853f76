package app

import (
	"database/sql"
	"fmt"

	devicesDomain "github.com/pavelzhukov/raylink/internal/devices/domain"
	devicesPersistence "github.com/pavelzhukov/raylink/internal/devices/infrastructure/persistence"
	entitlementDomain "github.com/pavelzhukov/raylink/internal/entitlement/domain"
	entitlementPersistence "github.com/pavelzhukov/raylink/internal/entitlement/infrastructure/persistence"
	paymentsDomain "github.com/pavelzhukov/raylink/internal/payments/domain"
	paymentsPersistence "github.com/pavelzhukov/raylink/internal/payments/infrastructure/persistence"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/outbox"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryFactory creates repositories based on the database driver.
type RepositoryFactory struct {
	conn   database.Connection
	driver database.Driver
}

// NewRepositoryFactory creates a new repository factory.
func NewRepositoryFactory(conn database.Connection) *RepositoryFactory {
	return &RepositoryFactory{
		conn:   conn,
		driver: conn.Driver(),
	}
}

// AccountRepository creates an account repository for the configured driver.
func (f *RepositoryFactory) AccountRepository() (entitlementDomain.AccountRepository, error) {
	switch f.driver {
	case database.DriverPostgres:
		pool, err := f.getPostgresPool()
		if err != nil {
			return nil, err
		}
		return entitlementPersistence.NewPostgresAccountRepository(pool), nil

	case database.DriverSQLite:
		db, err := f.getSQLiteDB()
		if err != nil {
			return nil, err
		}
		return entitlementPersistence.NewSQLiteAccountRepository(db), nil

	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// WindowRepository creates a subscription window repository for the configured driver.
func (f *RepositoryFactory) WindowRepository() (entitlementDomain.WindowRepository, error) {
	switch f.driver {
	case database.DriverPostgres:
		pool, err := f.getPostgresPool()
		if err != nil {
			return nil, err
		}
		return entitlementPersistence.NewPostgresWindowRepository(pool), nil

	case database.DriverSQLite:
		db, err := f.getSQLiteDB()
		if err != nil {
			return nil, err
		}
		return entitlementPersistence.NewSQLiteWindowRepository(db), nil

	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// PaymentRepository creates a payment ledger repository for the configured driver.
func (f *RepositoryFactory) PaymentRepository() (entitlementDomain.PaymentRepository, error) {
	switch f.driver {
	case database.DriverPostgres:
		pool, err := f.getPostgresPool()
		if err != nil {
			return nil, err
		}
		return entitlementPersistence.NewPostgresPaymentRepository(pool), nil

	case database.DriverSQLite:
		db, err := f.getSQLiteDB()
		if err != nil {
			return nil, err
		}
		return entitlementPersistence.NewSQLitePaymentRepository(db), nil

	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// BindingRepository creates a device binding repository for the configured driver.
func (f *RepositoryFactory) BindingRepository() (devicesDomain.BindingRepository, error) {
	switch f.driver {
	case database.DriverPostgres:
		pool, err := f.getPostgresPool()
		if err != nil {
			return nil, err
		}
		return devicesPersistence.NewPostgresBindingRepository(pool), nil

	case database.DriverSQLite:
		db, err := f.getSQLiteDB()
		if err != nil {
			return nil, err
		}
		return devicesPersistence.NewSQLiteBindingRepository(db), nil

	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// InvoiceRepository creates a provider invoice repository for the configured driver.
func (f *RepositoryFactory) InvoiceRepository() (paymentsDomain.InvoiceRepository, error) {
	switch f.driver {
	case database.DriverPostgres:
		pool, err := f.getPostgresPool()
		if err != nil {
			return nil, err
		}
		return paymentsPersistence.NewPostgresInvoiceRepository(pool), nil

	case database.DriverSQLite:
		db, err := f.getSQLiteDB()
		if err != nil {
			return nil, err
		}
		return paymentsPersistence.NewSQLiteInvoiceRepository(db), nil

	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// OutboxRepository creates an outbox repository for the configured driver.
func (f *RepositoryFactory) OutboxRepository() (outbox.Repository, error) {
	switch f.driver {
	case database.DriverPostgres:
		pool, err := f.getPostgresPool()
		if err != nil {
			return nil, err
		}
		return outbox.NewPostgresRepository(pool), nil

	case database.DriverSQLite:
		db, err := f.getSQLiteDB()
		if err != nil {
			return nil, err
		}
		return outbox.NewSQLiteRepository(db), nil

	default:
		return nil, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}

// Helper methods to get underlying database connections

func (f *RepositoryFactory) getPostgresPool() (*pgxpool.Pool, error) {
	pgConn, ok := f.conn.(interface{ Pool() *pgxpool.Pool })
	if !ok {
		return nil, fmt.Errorf("postgres connection does not expose Pool()")
	}
	return pgConn.Pool(), nil
}

func (f *RepositoryFactory) getSQLiteDB() (*sql.DB, error) {
	sqliteConn, ok := f.conn.(interface{ DB() *sql.DB })
	if !ok {
		return nil, fmt.Errorf("sqlite connection does not expose DB()")
	}
	return sqliteConn.DB(), nil
}

// Driver returns the database driver type.
func (f *RepositoryFactory) Driver() database.Driver {
	return f.driver
}

// Connection returns the underlying database connection.
func (f *RepositoryFactory) Connection() database.Connection {
	return f.conn
}
