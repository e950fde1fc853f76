package domain

import (
	"time"

	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/google/uuid"
)

// Source records how a subscription window was obtained.
type Source string

const (
	SourceTrial          Source = "trial"
	SourcePurchaseStars  Source = "purchase_stars"
	SourcePurchaseCrypto Source = "purchase_crypto"
	SourcePurchaseFiat   Source = "purchase_fiat"
	SourceAdmin          Source = "admin_grant"
)

// IsValid checks if the source is a known value.
func (s Source) IsValid() bool {
	switch s {
	case SourceTrial, SourcePurchaseStars, SourcePurchaseCrypto, SourcePurchaseFiat, SourceAdmin:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a subscription window.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Threshold tracks the most advanced expiry notification already sent for a
// window. Thresholds only move forward, which makes each notification
// at-most-once per window.
type Threshold string

const (
	ThresholdNone     Threshold = "none"
	ThresholdExpiring Threshold = "expiring"
	ThresholdExpired  Threshold = "expired"
)

func (t Threshold) rank() int {
	switch t {
	case ThresholdExpiring:
		return 1
	case ThresholdExpired:
		return 2
	default:
		return 0
	}
}

// Before reports whether t precedes other in notification order.
func (t Threshold) Before(other Threshold) bool {
	return t.rank() < other.rank()
}

// DeprovisionReason explains why access was withdrawn.
type DeprovisionReason string

const (
	ReasonExpired DeprovisionReason = "expired"
	ReasonRevoked DeprovisionReason = "revoked"
)

// SubscriptionWindow grants one account access to one server for a bounded
// period. At most one window per (account, server) is active at a time.
type SubscriptionWindow struct {
	sharedDomain.BaseAggregateRoot
	accountID    uuid.UUID
	serverID     string
	source       Source
	status       Status
	startsAt     time.Time
	expiresAt    time.Time
	lastNotified Threshold
}

// NewSubscriptionWindow opens a fresh window starting now.
func NewSubscriptionWindow(accountID uuid.UUID, serverID string, source Source, now time.Time, expiresAt time.Time) (*SubscriptionWindow, error) {
	if !source.IsValid() {
		return nil, ErrInvalidSource
	}
	if !expiresAt.After(now) {
		return nil, ErrInvalidWindowPeriod
	}

	window := &SubscriptionWindow{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		accountID:         accountID,
		serverID:          serverID,
		source:            source,
		status:            StatusActive,
		startsAt:          now,
		expiresAt:         expiresAt,
		lastNotified:      ThresholdNone,
	}

	window.AddDomainEvent(NewWindowProvisioned(window))

	return window, nil
}

// Getters
func (w *SubscriptionWindow) AccountID() uuid.UUID    { return w.accountID }
func (w *SubscriptionWindow) ServerID() string        { return w.serverID }
func (w *SubscriptionWindow) Source() Source          { return w.source }
func (w *SubscriptionWindow) Status() Status          { return w.status }
func (w *SubscriptionWindow) StartsAt() time.Time     { return w.startsAt }
func (w *SubscriptionWindow) ExpiresAt() time.Time    { return w.expiresAt }
func (w *SubscriptionWindow) LastNotified() Threshold { return w.lastNotified }

// IsActiveAt reports whether the window grants access at the given instant.
// A window past its expiry no longer grants access even before the status
// row has been swept.
func (w *SubscriptionWindow) IsActiveAt(now time.Time) bool {
	return w.status == StatusActive && now.Before(w.expiresAt)
}

// ExpiresWithin reports whether an active window ends within the lookahead.
func (w *SubscriptionWindow) ExpiresWithin(now time.Time, lookahead time.Duration) bool {
	if w.status != StatusActive {
		return false
	}
	return w.expiresAt.After(now) && !w.expiresAt.After(now.Add(lookahead))
}

// Extend pushes the expiry out by the given number of days. Remaining time
// is preserved: the new expiry counts from the current expiry or from now,
// whichever is later. Extending re-arms expiry notifications for the new end.
func (w *SubscriptionWindow) Extend(days int, now time.Time) error {
	if w.status != StatusActive {
		return ErrWindowNotActive
	}
	if days <= 0 {
		return ErrInvalidPlan
	}

	base := w.expiresAt
	if base.Before(now) {
		base = now
	}
	w.expiresAt = base.AddDate(0, 0, days)
	w.lastNotified = ThresholdNone
	w.Touch()

	w.AddDomainEvent(NewWindowExtended(w, days))

	return nil
}

// Expire transitions an active window to expired. The transition carries
// both the deprovision signal and the expired notification, so whoever wins
// the optimistic save emits each exactly once.
func (w *SubscriptionWindow) Expire(now time.Time) error {
	if w.status != StatusActive {
		return ErrWindowNotActive
	}
	if now.Before(w.expiresAt) {
		return ErrWindowNotActive
	}

	w.status = StatusExpired
	w.lastNotified = ThresholdExpired
	w.Touch()

	w.AddDomainEvent(NewWindowDeprovisioned(w, ReasonExpired))
	w.AddDomainEvent(NewExpiryNotificationDue(w, ThresholdExpired))

	return nil
}

// Revoke withdraws an active window before its natural expiry.
func (w *SubscriptionWindow) Revoke() error {
	if w.status != StatusActive {
		return ErrWindowNotActive
	}

	w.status = StatusRevoked
	w.Touch()

	w.AddDomainEvent(NewWindowDeprovisioned(w, ReasonRevoked))

	return nil
}

// MarkExpiringNotified records that the pre-expiry warning for the current
// expiry has been queued.
func (w *SubscriptionWindow) MarkExpiringNotified() error {
	if w.status != StatusActive {
		return ErrWindowNotActive
	}
	if !w.lastNotified.Before(ThresholdExpiring) {
		return ErrNotificationAlreadySent
	}

	w.lastNotified = ThresholdExpiring
	w.Touch()

	w.AddDomainEvent(NewExpiryNotificationDue(w, ThresholdExpiring))

	return nil
}

// MarkExpiredNotified queues the expired notice for a window that reached
// the expired state without one, e.g. rows migrated from another system.
func (w *SubscriptionWindow) MarkExpiredNotified() error {
	if w.status != StatusExpired {
		return ErrWindowNotActive
	}
	if !w.lastNotified.Before(ThresholdExpired) {
		return ErrNotificationAlreadySent
	}

	w.lastNotified = ThresholdExpired
	w.Touch()

	w.AddDomainEvent(NewExpiryNotificationDue(w, ThresholdExpired))

	return nil
}

// RehydrateSubscriptionWindow recreates a window from persisted state
// without generating events.
func RehydrateSubscriptionWindow(
	id uuid.UUID,
	accountID uuid.UUID,
	serverID string,
	source Source,
	status Status,
	startsAt time.Time,
	expiresAt time.Time,
	lastNotified Threshold,
	createdAt time.Time,
	updatedAt time.Time,
	version int,
) *SubscriptionWindow {
	baseEntity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	baseAggregate := sharedDomain.RehydrateBaseAggregateRoot(baseEntity, version)

	return &SubscriptionWindow{
		BaseAggregateRoot: baseAggregate,
		accountID:         accountID,
		serverID:          serverID,
		source:            source,
		status:            status,
		startsAt:          startsAt,
		expiresAt:         expiresAt,
		lastNotified:      lastNotified,
	}
}
