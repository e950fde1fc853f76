package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	entitlementDomain "github.com/pavelzhukov/raylink/internal/entitlement/domain"
	"github.com/pavelzhukov/raylink/internal/payments/domain"
	"github.com/pavelzhukov/raylink/pkg/config"
)

// PlanCatalog resolves purchasable plans with their prices.
type PlanCatalog interface {
	PlanByID(id string) (config.Plan, bool)
}

// CreateInvoiceCommand opens a payment invoice with an external provider.
type CreateInvoiceCommand struct {
	AccountID uuid.UUID
	ServerID  string
	PlanID    string
	Provider  string
	Now       time.Time
}

// CreateInvoiceResult carries what the bot shows the user.
type CreateInvoiceResult struct {
	InvoiceID   uuid.UUID
	PayURL      string
	AmountMinor int64
	Currency    string
	ExpiresAt   time.Time
}

// CreateInvoiceHandler handles the CreateInvoiceCommand.
type CreateInvoiceHandler struct {
	invoiceRepo domain.InvoiceRepository
	gateways    map[string]Gateway
	plans       PlanCatalog
	logger      *slog.Logger
	ttl         time.Duration
}

// NewCreateInvoiceHandler creates a new CreateInvoiceHandler. Only the
// gateways actually configured for this deployment are passed in.
func NewCreateInvoiceHandler(
	invoiceRepo domain.InvoiceRepository,
	gateways []Gateway,
	plans PlanCatalog,
	logger *slog.Logger,
	ttl time.Duration,
) *CreateInvoiceHandler {
	byName := make(map[string]Gateway, len(gateways))
	for _, gateway := range gateways {
		byName[gateway.Name()] = gateway
	}
	return &CreateInvoiceHandler{
		invoiceRepo: invoiceRepo,
		gateways:    byName,
		plans:       plans,
		logger:      logger,
		ttl:         ttl,
	}
}

// Handle opens the invoice with the provider first and records it after, so
// a failed write leaves an orphan invoice that simply lapses provider-side.
func (h *CreateInvoiceHandler) Handle(ctx context.Context, cmd CreateInvoiceCommand) (*CreateInvoiceResult, error) {
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}

	plan, ok := h.plans.PlanByID(cmd.PlanID)
	if !ok || plan.Days <= 0 {
		return nil, entitlementDomain.ErrInvalidPlan
	}

	gateway, ok := h.gateways[cmd.Provider]
	if !ok {
		return nil, domain.ErrProviderUnavailable
	}

	created, err := gateway.CreateInvoice(ctx, GatewayInvoiceRequest{
		AmountMinor: plan.Price.Amount,
		Currency:    plan.Price.Currency,
		Description: fmt.Sprintf("%s (%d days)", plan.Title, plan.Days),
		TTL:         h.ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s invoice: %w", cmd.Provider, err)
	}

	invoice, err := domain.NewInvoice(
		cmd.AccountID,
		gateway.Name(),
		created.ProviderInvoiceID,
		cmd.PlanID,
		cmd.ServerID,
		plan.Price.Amount,
		plan.Price.Currency,
		created.PayURL,
		now,
	)
	if err != nil {
		return nil, err
	}

	if err := h.invoiceRepo.Insert(ctx, invoice); err != nil {
		return nil, fmt.Errorf("record invoice: %w", err)
	}

	h.logger.Info("invoice created",
		slog.String("invoice_id", invoice.ID().String()),
		slog.String("account_id", cmd.AccountID.String()),
		slog.String("provider", gateway.Name()),
		slog.String("provider_invoice_id", created.ProviderInvoiceID),
		slog.String("plan_id", cmd.PlanID),
	)

	return &CreateInvoiceResult{
		InvoiceID:   invoice.ID(),
		PayURL:      created.PayURL,
		AmountMinor: plan.Price.Amount,
		Currency:    plan.Price.Currency,
		ExpiresAt:   now.Add(h.ttl),
	}, nil
}
