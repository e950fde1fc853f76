package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelzhukov/raylink/internal/payments/domain"
)

// VerifiedPayment describes a payment a provider reported as paid.
type VerifiedPayment struct {
	AccountID   uuid.UUID
	ServerID    string
	PlanID      string
	PaymentRef  string
	Provider    string
	AmountMinor int64
	Currency    string
	Now         time.Time
}

// PurchaseConfirmer credits verified payments to subscription windows. A
// payment reference that was already credited must be a clean no-op, which
// is what makes re-polling a half-settled invoice safe.
type PurchaseConfirmer interface {
	ConfirmPurchase(ctx context.Context, payment VerifiedPayment) error
}

// WatchInvoicesCommand runs one polling pass over pending invoices.
type WatchInvoicesCommand struct {
	Now       time.Time
	BatchSize int
}

// WatchInvoicesResult reports what one pass did.
type WatchInvoicesResult struct {
	Scanned int
	Settled int
	Expired int
	Failed  int
}

type pollOutcome int

const (
	pollPending pollOutcome = iota
	pollSettled
	pollExpired
)

// WatchInvoicesHandler handles the WatchInvoicesCommand.
type WatchInvoicesHandler struct {
	invoiceRepo domain.InvoiceRepository
	gateways    map[string]Gateway
	confirmer   PurchaseConfirmer
	logger      *slog.Logger
	ttl         time.Duration
}

// NewWatchInvoicesHandler creates a new WatchInvoicesHandler.
func NewWatchInvoicesHandler(
	invoiceRepo domain.InvoiceRepository,
	gateways []Gateway,
	confirmer PurchaseConfirmer,
	logger *slog.Logger,
	ttl time.Duration,
) *WatchInvoicesHandler {
	byName := make(map[string]Gateway, len(gateways))
	for _, gateway := range gateways {
		byName[gateway.Name()] = gateway
	}
	return &WatchInvoicesHandler{
		invoiceRepo: invoiceRepo,
		gateways:    byName,
		confirmer:   confirmer,
		logger:      logger,
		ttl:         ttl,
	}
}

// Handle polls each pending invoice once. One bad invoice never stops the
// pass; failures are logged and retried on the next tick.
func (h *WatchInvoicesHandler) Handle(ctx context.Context, cmd WatchInvoicesCommand) (*WatchInvoicesResult, error) {
	now := cmd.Now
	if now.IsZero() {
		now = time.Now()
	}
	batchSize := cmd.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	pending, err := h.invoiceRepo.ListPending(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending invoices: %w", err)
	}

	result := &WatchInvoicesResult{Scanned: len(pending)}
	for _, invoice := range pending {
		outcome, err := h.poll(ctx, invoice, now)
		if err != nil {
			result.Failed++
			h.logger.Error("invoice poll failed",
				slog.String("invoice_id", invoice.ID().String()),
				slog.String("provider", invoice.Provider()),
				slog.String("error", err.Error()),
			)
			continue
		}
		switch outcome {
		case pollSettled:
			result.Settled++
		case pollExpired:
			result.Expired++
		}
	}

	return result, nil
}

func (h *WatchInvoicesHandler) poll(ctx context.Context, invoice *domain.Invoice, now time.Time) (pollOutcome, error) {
	gateway, ok := h.gateways[invoice.Provider()]
	if !ok {
		// The provider was removed from config while this invoice was open.
		return pollPending, domain.ErrProviderUnavailable
	}

	status, err := gateway.CheckInvoice(ctx, invoice.ProviderInvoiceID())
	if err != nil {
		return pollPending, fmt.Errorf("check invoice: %w", err)
	}

	switch status {
	case PaymentPaid:
		return h.settle(ctx, invoice, now)
	case PaymentExpired:
		return h.expire(ctx, invoice, now)
	default:
		// Some providers never close an invoice on their own; the local TTL
		// bounds how long we keep asking.
		if invoice.TTLExceeded(now, h.ttl) {
			return h.expire(ctx, invoice, now)
		}
		return pollPending, nil
	}
}

// settle credits the payment before closing the invoice. If the close is
// lost, the next pass re-confirms the same reference, which the purchase
// ledger turns into a no-op, and closes the invoice then.
func (h *WatchInvoicesHandler) settle(ctx context.Context, invoice *domain.Invoice, now time.Time) (pollOutcome, error) {
	err := h.confirmer.ConfirmPurchase(ctx, VerifiedPayment{
		AccountID:   invoice.AccountID(),
		ServerID:    invoice.ServerID(),
		PlanID:      invoice.PlanID(),
		PaymentRef:  invoice.ProviderInvoiceID(),
		Provider:    invoice.Provider(),
		AmountMinor: invoice.AmountMinor(),
		Currency:    invoice.Currency(),
		Now:         now,
	})
	if err != nil {
		return pollPending, fmt.Errorf("confirm purchase: %w", err)
	}

	settled, err := h.invoiceRepo.MarkSettled(ctx, invoice.ID(), invoice.ProviderInvoiceID(), now)
	if err != nil {
		return pollPending, fmt.Errorf("mark settled: %w", err)
	}
	if !settled {
		// A concurrent pass closed it between our list and this write.
		return pollPending, nil
	}

	h.logger.Info("invoice settled",
		slog.String("invoice_id", invoice.ID().String()),
		slog.String("account_id", invoice.AccountID().String()),
		slog.String("provider", invoice.Provider()),
		slog.String("payment_ref", invoice.ProviderInvoiceID()),
	)
	return pollSettled, nil
}

func (h *WatchInvoicesHandler) expire(ctx context.Context, invoice *domain.Invoice, now time.Time) (pollOutcome, error) {
	expired, err := h.invoiceRepo.MarkExpired(ctx, invoice.ID(), now)
	if err != nil {
		return pollPending, fmt.Errorf("mark expired: %w", err)
	}
	if !expired {
		return pollPending, nil
	}

	h.logger.Info("invoice expired unpaid",
		slog.String("invoice_id", invoice.ID().String()),
		slog.String("provider", invoice.Provider()),
	)
	return pollExpired, nil
}
