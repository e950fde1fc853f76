package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pavelzhukov/raylink/internal/backup"
	deviceCommands "github.com/pavelzhukov/raylink/internal/devices/application/commands"
	deviceQueries "github.com/pavelzhukov/raylink/internal/devices/application/queries"
	devicesDomain "github.com/pavelzhukov/raylink/internal/devices/domain"
	devicesCache "github.com/pavelzhukov/raylink/internal/devices/infrastructure/cache"
	devicesPersistence "github.com/pavelzhukov/raylink/internal/devices/infrastructure/persistence"
	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	entitlementQueries "github.com/pavelzhukov/raylink/internal/entitlement/application/queries"
	entitlementDomain "github.com/pavelzhukov/raylink/internal/entitlement/domain"
	entitlementPersistence "github.com/pavelzhukov/raylink/internal/entitlement/infrastructure/persistence"
	notificationCommands "github.com/pavelzhukov/raylink/internal/notifications/application/commands"
	paymentCommands "github.com/pavelzhukov/raylink/internal/payments/application/commands"
	paymentsDomain "github.com/pavelzhukov/raylink/internal/payments/domain"
	paymentsPersistence "github.com/pavelzhukov/raylink/internal/payments/infrastructure/persistence"
	"github.com/pavelzhukov/raylink/internal/payments/infrastructure/providers"
	"github.com/pavelzhukov/raylink/internal/provisioning"
	"github.com/pavelzhukov/raylink/internal/provisioning/xray"
	sharedApplication "github.com/pavelzhukov/raylink/internal/shared/application"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/crypto"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
	_ "github.com/pavelzhukov/raylink/internal/shared/infrastructure/database/sqlite" // Register SQLite driver
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/eventbus"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/migrations"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/pavelzhukov/raylink/internal/shared/infrastructure/persistence"
	"github.com/pavelzhukov/raylink/internal/telegram"
	"github.com/pavelzhukov/raylink/pkg/config"
	"github.com/pavelzhukov/raylink/pkg/observability"
	"github.com/redis/go-redis/v9"
)

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Catalog *config.Catalog
	Logger  *slog.Logger

	// Database
	DB       *pgxpool.Pool
	DBConn   database.Connection // Abstract connection for driver-agnostic access
	DBDriver database.Driver

	// Redis
	RedisClient *redis.Client

	// Repositories (use interfaces for driver-agnostic access)
	AccountRepo entitlementDomain.AccountRepository
	WindowRepo  entitlementDomain.WindowRepository
	PaymentRepo entitlementDomain.PaymentRepository
	BindingRepo devicesDomain.BindingRepository
	InvoiceRepo paymentsDomain.InvoiceRepository
	OutboxRepo  outbox.Repository

	// Publishers
	EventPublisher eventbus.Publisher

	// EventConsumers lists the lifecycle-event consumers in registration
	// order. When InProcessEventBus is the broker they are already attached;
	// otherwise the serving process binds them to a RabbitMQ consumer.
	EventConsumers    []eventbus.EventConsumer
	InProcessEventBus *eventbus.InProcessEventBus

	// Unit of Work
	UnitOfWork sharedApplication.UnitOfWork

	// Entitlement Command Handlers
	RegisterAccountHandler  *entitlementCommands.RegisterAccountHandler
	ActivateTrialHandler    *entitlementCommands.ActivateTrialHandler
	ConfirmPurchaseHandler  *entitlementCommands.ConfirmPurchaseHandler
	ExpireWindowHandler     *entitlementCommands.ExpireWindowHandler
	RevokeWindowHandler     *entitlementCommands.RevokeWindowHandler
	GrantWindowHandler      *entitlementCommands.GrantWindowHandler
	SetBanHandler           *entitlementCommands.SetBanHandler
	SweepExpirationsHandler *entitlementCommands.SweepExpirationsHandler

	// Entitlement Query Handlers
	CheckAccessHandler     *entitlementQueries.CheckAccessHandler
	AccountOverviewHandler *entitlementQueries.GetAccountOverviewHandler
	SystemStatsHandler     *entitlementQueries.SystemStatsHandler

	// Device Handlers
	FreshnessCache          devicesCache.FreshnessCache
	ReportConnectionHandler *deviceCommands.ReportConnectionHandler
	EvictStaleHandler       *deviceCommands.EvictStaleHandler
	ListDevicesHandler      *deviceQueries.ListDevicesHandler

	// Notification Handlers
	NotifyExpirationsHandler *notificationCommands.NotifyExpirationsHandler

	// Payments
	Gateways             []paymentCommands.Gateway
	CreateInvoiceHandler *paymentCommands.CreateInvoiceHandler
	WatchInvoicesHandler *paymentCommands.WatchInvoicesHandler

	// Provisioning
	XrayManager *xray.Manager
	Applier     *provisioning.Applier

	// Telegram
	BotAPI     *tgbotapi.BotAPI
	Bot        *telegram.Bot
	Dispatcher *telegram.Dispatcher
	Notifier   *telegram.Notifier

	// Outbox Processor
	OutboxProcessor *outbox.Processor

	// Backup (SQLite only)
	BackupService *backup.Service

	// Metrics counters, exposed by the worker health server
	Metrics *observability.InMemoryMetrics
}

// NewContainer creates and wires all dependencies for PostgreSQL mode.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logger,
	}

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	c.Catalog = catalog

	// Connect to PostgreSQL
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c.DB = pool
	c.DBDriver = database.DriverPostgres
	logger.Info("connected to database")

	// Connect to Redis (optional in development)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			if !cfg.IsDevelopment() {
				pool.Close()
				return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
			}
			logger.Warn("invalid Redis URL, device freshness will use in-memory fallback", "error", err)
		} else {
			redisClient := redis.NewClient(opt)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				if !cfg.IsDevelopment() {
					pool.Close()
					return nil, fmt.Errorf("failed to connect to Redis: %w", err)
				}
				logger.Warn("Redis not available, device freshness will use in-memory fallback", "error", err)
			} else {
				c.RedisClient = redisClient
				logger.Info("connected to Redis")
			}
		}
	}

	// Create repositories
	c.AccountRepo = entitlementPersistence.NewPostgresAccountRepository(pool)
	c.WindowRepo = entitlementPersistence.NewPostgresWindowRepository(pool)
	c.PaymentRepo = entitlementPersistence.NewPostgresPaymentRepository(pool)
	c.BindingRepo = devicesPersistence.NewPostgresBindingRepository(pool)
	c.InvoiceRepo = paymentsPersistence.NewPostgresInvoiceRepository(pool)
	c.OutboxRepo = outbox.NewPostgresRepository(pool)
	c.UnitOfWork = sharedPersistence.NewPostgresUnitOfWork(pool)

	// Create event publisher. Without RabbitMQ in development the in-process
	// bus takes its place, so outbox messages still reach the consumers.
	publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		if cfg.IsDevelopment() {
			logger.Warn("RabbitMQ not available, using in-process event bus")
			c.InProcessEventBus = eventbus.NewInProcessEventBus(logger)
			c.EventPublisher = c.InProcessEventBus
		} else {
			pool.Close()
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
	} else {
		c.EventPublisher = publisher
	}

	if err := c.wire(); err != nil {
		if c.EventPublisher != nil {
			_ = c.EventPublisher.Close()
		}
		pool.Close()
		return nil, err
	}

	return c, nil
}

// NewLocalContainer creates a container for local mode with SQLite.
// This provides zero-config operation on a single VPS without requiring
// PostgreSQL, Redis, or RabbitMQ.
func NewLocalContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logger,
	}

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	c.Catalog = catalog

	// Initialize SQLite database
	conn, err := initSQLiteConnection(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	// Create repository factory
	factory := NewRepositoryFactory(conn)

	// Create repositories using factory
	accountRepo, err := factory.AccountRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to create account repository: %w", err)
	}
	c.AccountRepo = accountRepo

	windowRepo, err := factory.WindowRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to create window repository: %w", err)
	}
	c.WindowRepo = windowRepo

	paymentRepo, err := factory.PaymentRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to create payment repository: %w", err)
	}
	c.PaymentRepo = paymentRepo

	bindingRepo, err := factory.BindingRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to create binding repository: %w", err)
	}
	c.BindingRepo = bindingRepo

	invoiceRepo, err := factory.InvoiceRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice repository: %w", err)
	}
	c.InvoiceRepo = invoiceRepo

	outboxRepo, err := factory.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox repository: %w", err)
	}
	c.OutboxRepo = outboxRepo

	// The in-process bus is the broker in local mode: the outbox processor
	// publishes into it and consumers run synchronously in this process.
	c.InProcessEventBus = eventbus.NewInProcessEventBus(logger)
	c.EventPublisher = c.InProcessEventBus

	// Create unit of work for SQLite
	c.UnitOfWork = sharedPersistence.NewSQLiteUnitOfWork(conn.DB())

	if err := c.wire(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	// Configure backups. VACUUM INTO is a SQLite operation, so only the
	// local container carries a backup service.
	if cfg.BackupEnabled {
		uploader, err := backup.NewS3Uploader(ctx, backup.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to configure backup storage: %w", err)
		}
		// A bad key must fail loudly; silently shipping plaintext when
		// the operator asked for encryption is worse than not starting.
		var encrypter crypto.Encrypter
		if cfg.BackupEncryptionKey != "" {
			encrypter, err = crypto.NewAESGCMFromBase64Key(cfg.BackupEncryptionKey)
			if err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("invalid backup encryption key: %w", err)
			}
		}
		c.BackupService = backup.NewService(backup.ServiceConfig{
			Connection: conn,
			Uploader:   uploader,
			Encrypter:  encrypter,
			Keep:       cfg.BackupKeep,
			Logger:     logger,
		})
		logger.Info("backups enabled",
			"bucket", cfg.S3Bucket,
			"interval", cfg.BackupInterval,
			"encrypted", encrypter != nil,
		)
	}

	// Store connection for Close
	c.DBConn = conn
	c.DBDriver = database.DriverSQLite

	logger.Info("local mode container initialized",
		"database", cfg.SQLitePath,
		"driver", "sqlite",
	)

	return c, nil
}

// wire builds the driver-independent part of the graph: application
// handlers, payment gateways, provisioning, and the Telegram transport.
// Repositories, unit of work, and the publisher must already be set.
func (c *Container) wire() error {
	cfg := c.Config
	logger := c.Logger
	catalog := c.Catalog

	c.Metrics = observability.NewInMemoryMetrics()

	// Entitlement command handlers
	c.RegisterAccountHandler = entitlementCommands.NewRegisterAccountHandler(c.AccountRepo, c.OutboxRepo, c.UnitOfWork)
	c.ActivateTrialHandler = entitlementCommands.NewActivateTrialHandler(c.AccountRepo, c.WindowRepo, c.OutboxRepo, c.UnitOfWork, cfg.TrialEnabled, cfg.TrialDays)
	c.ConfirmPurchaseHandler = entitlementCommands.NewConfirmPurchaseHandler(c.AccountRepo, c.WindowRepo, c.PaymentRepo, c.OutboxRepo, c.UnitOfWork, catalog)
	c.ExpireWindowHandler = entitlementCommands.NewExpireWindowHandler(c.WindowRepo, c.OutboxRepo, c.UnitOfWork)
	c.RevokeWindowHandler = entitlementCommands.NewRevokeWindowHandler(c.WindowRepo, c.OutboxRepo, c.UnitOfWork)
	c.GrantWindowHandler = entitlementCommands.NewGrantWindowHandler(c.AccountRepo, c.WindowRepo, c.OutboxRepo, c.UnitOfWork)
	c.SetBanHandler = entitlementCommands.NewSetBanHandler(c.AccountRepo, c.OutboxRepo, c.UnitOfWork)
	c.SweepExpirationsHandler = entitlementCommands.NewSweepExpirationsHandler(c.WindowRepo, c.ExpireWindowHandler, logger)

	// Entitlement query handlers
	c.CheckAccessHandler = entitlementQueries.NewCheckAccessHandler(c.AccountRepo, c.WindowRepo, c.ExpireWindowHandler, logger)
	c.AccountOverviewHandler = entitlementQueries.NewGetAccountOverviewHandler(c.AccountRepo, c.WindowRepo)
	c.SystemStatsHandler = entitlementQueries.NewSystemStatsHandler(c.AccountRepo, c.WindowRepo, c.PaymentRepo)

	// Device handlers. The SQL store stays authoritative; Redis only
	// short-circuits repeat connection reports.
	if c.RedisClient != nil {
		c.FreshnessCache = devicesCache.NewRedisCache(c.RedisClient)
	} else {
		c.FreshnessCache = devicesCache.NewMemoryCache()
	}
	c.ReportConnectionHandler = deviceCommands.NewReportConnectionHandler(c.BindingRepo, c.FreshnessCache, c.UnitOfWork, logger, cfg.MaxDevicesPerAccount, cfg.DeviceFreshness)
	c.EvictStaleHandler = deviceCommands.NewEvictStaleHandler(c.BindingRepo, cfg.DeviceFreshness)
	c.ListDevicesHandler = deviceQueries.NewListDevicesHandler(c.BindingRepo, cfg.DeviceFreshness)

	// Notification handlers
	c.NotifyExpirationsHandler = notificationCommands.NewNotifyExpirationsHandler(c.WindowRepo, c.OutboxRepo, c.UnitOfWork, logger, cfg.NotificationLookahead)

	// Payment gateways, only those with credentials configured
	if cfg.CryptoPayAPIToken != "" {
		c.Gateways = append(c.Gateways, providers.NewCryptoPay(cfg.CryptoPayAPIURL, cfg.CryptoPayAPIToken, cfg.TelegramBotUsername, logger))
	}
	if cfg.YooKassaShopID != "" && cfg.YooKassaSecretKey != "" {
		c.Gateways = append(c.Gateways, providers.NewYooKassa(cfg.YooKassaAPIURL, cfg.YooKassaShopID, cfg.YooKassaSecretKey, cfg.TelegramBotUsername, logger))
	}
	c.CreateInvoiceHandler = paymentCommands.NewCreateInvoiceHandler(c.InvoiceRepo, c.Gateways, catalog, logger, cfg.InvoiceTTL)
	c.WatchInvoicesHandler = paymentCommands.NewWatchInvoicesHandler(c.InvoiceRepo, c.Gateways, &purchaseConfirmer{handler: c.ConfirmPurchaseHandler}, logger, cfg.InvoiceTTL)

	// Provisioning for the server this instance manages
	serverID := cfg.XrayServerID
	if serverID == "" {
		serverID = catalog.DefaultServer
	}
	reloader := xray.NewCommandReloader(cfg.XrayReloadCmd, logger)
	c.XrayManager = xray.NewManager(cfg.XrayConfigPath, reloader, logger)
	c.Applier = provisioning.NewApplier(serverID, c.XrayManager, logger)
	c.EventConsumers = append(c.EventConsumers, c.Applier)

	// Telegram transport. A failed authorization only disables the bot
	// surface; the serving process refuses to start without it, but admin
	// commands keep working against the store.
	if cfg.TelegramBotToken != "" {
		api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			logger.Warn("Telegram API not reachable, bot disabled", "error", err)
		} else {
			c.BotAPI = api
			logger.Info("authorized with Telegram", "username", api.Self.UserName)
		}
	}

	if c.BotAPI != nil {
		providerNames := make([]string, 0, len(c.Gateways))
		for _, gateway := range c.Gateways {
			providerNames = append(providerNames, gateway.Name())
		}

		c.Bot = telegram.NewBot(telegram.BotConfig{
			API:       c.BotAPI,
			Accounts:  c.RegisterAccountHandler,
			Trials:    c.ActivateTrialHandler,
			Purchases: c.ConfirmPurchaseHandler,
			Invoices:  c.CreateInvoiceHandler,
			Overview:  c.AccountOverviewHandler,
			Devices:   c.ListDevicesHandler,
			Stats:     c.SystemStatsHandler,
			Catalog:   catalog,
			Logger:    logger,

			Providers:     providerNames,
			AdminIDs:      cfg.TelegramAdminIDs,
			TrialEnabled:  cfg.TrialEnabled,
			TrialDays:     cfg.TrialDays,
			RetryAttempts: cfg.StoreRetryAttempts,
			RetryBase:     cfg.StoreRetryBase,
			StoreTimeout:  cfg.StoreTimeout,
		})
		c.Dispatcher = telegram.NewDispatcher(c.BotAPI, c.Bot, logger)
		c.Notifier = telegram.NewNotifier(c.BotAPI, c.AccountRepo, catalog, logger)
		c.EventConsumers = append(c.EventConsumers, c.Notifier)
	} else {
		logger.Warn("no Telegram bot token configured, running without the bot surface")
	}

	// Attach consumers when the in-process bus is the broker
	if c.InProcessEventBus != nil {
		for _, consumer := range c.EventConsumers {
			c.InProcessEventBus.RegisterConsumer(consumer)
		}
	}

	// Create outbox processor
	processorConfig := outbox.ProcessorConfig{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		MaxRetries:   cfg.OutboxMaxRetries,
	}
	c.OutboxProcessor = outbox.NewProcessor(c.OutboxRepo, c.EventPublisher, processorConfig, logger)

	return nil
}

// Close cleans up all resources.
func (c *Container) Close() {
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		} else {
			c.Logger.Info("Redis connection closed")
		}
	}

	if c.DB != nil {
		c.DB.Close()
		c.Logger.Info("PostgreSQL connection closed")
	}

	// Close SQLite connection if using local mode
	if c.DBConn != nil && c.DBDriver == database.DriverSQLite {
		if err := c.DBConn.Close(); err != nil {
			c.Logger.Warn("error closing SQLite connection", "error", err)
		} else {
			c.Logger.Info("SQLite connection closed")
		}
	}
}

// sqliteConnection is a type that implements database.Connection and exposes DB()
type sqliteConnection interface {
	database.Connection
	DB() *sql.DB
}

// initSQLiteConnection initializes the SQLite database connection with auto-migration.
func initSQLiteConnection(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sqliteConnection, error) {
	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite connection: %w", err)
	}

	// Type assert to get SQLite-specific connection with DB() method
	sqliteConn, ok := conn.(sqliteConnection)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("expected SQLite connection with DB() method, got %T", conn)
	}

	logger.Info("running SQLite migrations")
	if err := migrations.RunSQLite(ctx, sqliteConn.DB()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("SQLite migrations completed")

	return sqliteConn, nil
}
