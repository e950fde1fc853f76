package cli

import (
	deviceQueries "github.com/pavelzhukov/raylink/internal/devices/application/queries"
	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	entitlementQueries "github.com/pavelzhukov/raylink/internal/entitlement/application/queries"
	entitlementDomain "github.com/pavelzhukov/raylink/internal/entitlement/domain"
	"github.com/pavelzhukov/raylink/pkg/config"
)

// App holds the CLI application dependencies.
type App struct {
	// Entitlement Command Handlers
	GrantWindowHandler      *entitlementCommands.GrantWindowHandler
	RevokeWindowHandler     *entitlementCommands.RevokeWindowHandler
	SetBanHandler           *entitlementCommands.SetBanHandler
	SweepExpirationsHandler *entitlementCommands.SweepExpirationsHandler

	// Query Handlers
	AccountOverviewHandler *entitlementQueries.GetAccountOverviewHandler
	SystemStatsHandler     *entitlementQueries.SystemStatsHandler
	CheckAccessHandler     *entitlementQueries.CheckAccessHandler
	ListDevicesHandler     *deviceQueries.ListDevicesHandler

	// Account lookup for telegram-id arguments
	AccountRepo entitlementDomain.AccountRepository

	// Catalog resolves server and plan ids
	Catalog *config.Catalog
}

// NewApp creates a new CLI application with the provided handlers.
func NewApp(
	grantWindowHandler *entitlementCommands.GrantWindowHandler,
	revokeWindowHandler *entitlementCommands.RevokeWindowHandler,
	setBanHandler *entitlementCommands.SetBanHandler,
	sweepExpirationsHandler *entitlementCommands.SweepExpirationsHandler,
	accountOverviewHandler *entitlementQueries.GetAccountOverviewHandler,
	systemStatsHandler *entitlementQueries.SystemStatsHandler,
	checkAccessHandler *entitlementQueries.CheckAccessHandler,
	listDevicesHandler *deviceQueries.ListDevicesHandler,
	accountRepo entitlementDomain.AccountRepository,
	catalog *config.Catalog,
) *App {
	return &App{
		GrantWindowHandler:      grantWindowHandler,
		RevokeWindowHandler:     revokeWindowHandler,
		SetBanHandler:           setBanHandler,
		SweepExpirationsHandler: sweepExpirationsHandler,
		AccountOverviewHandler:  accountOverviewHandler,
		SystemStatsHandler:      systemStatsHandler,
		CheckAccessHandler:      checkAccessHandler,
		ListDevicesHandler:      listDevicesHandler,
		AccountRepo:             accountRepo,
		Catalog:                 catalog,
	}
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}
