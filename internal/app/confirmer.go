package app

import (
	"context"

	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	paymentCommands "github.com/pavelzhukov/raylink/internal/payments/application/commands"
)

// purchaseConfirmer bridges the payments watcher to the entitlement side.
// The watcher knows nothing about windows; it hands over a verified payment
// and the entitlement handler decides whether the reference is new.
type purchaseConfirmer struct {
	handler *entitlementCommands.ConfirmPurchaseHandler
}

var _ paymentCommands.PurchaseConfirmer = (*purchaseConfirmer)(nil)

func (p *purchaseConfirmer) ConfirmPurchase(ctx context.Context, payment paymentCommands.VerifiedPayment) error {
	_, err := p.handler.Handle(ctx, entitlementCommands.ConfirmPurchaseCommand{
		AccountID:   payment.AccountID,
		ServerID:    payment.ServerID,
		PlanID:      payment.PlanID,
		PaymentRef:  payment.PaymentRef,
		Provider:    payment.Provider,
		AmountMinor: payment.AmountMinor,
		Currency:    payment.Currency,
		Now:         payment.Now,
	})
	return err
}
