package domain

import (
	"strings"
	"time"

	sharedDomain "github.com/pavelzhukov/raylink/internal/shared/domain"
	"github.com/google/uuid"
)

// Account represents a Telegram user known to the service. It owns the
// one-shot trial flag and the ban switch that gates every entitlement.
type Account struct {
	sharedDomain.BaseAggregateRoot
	telegramID sharedDomain.TelegramID
	username   string
	trialUsed  bool
	banned     bool
}

// NewAccount registers a new account for a Telegram user.
func NewAccount(telegramID sharedDomain.TelegramID, username string) (*Account, error) {
	if telegramID.IsZero() {
		return nil, ErrInvalidTelegramID
	}

	account := &Account{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		telegramID:        telegramID,
		username:          strings.TrimSpace(username),
		trialUsed:         false,
		banned:            false,
	}

	account.AddDomainEvent(NewAccountRegistered(account))

	return account, nil
}

// Getters
func (a *Account) TelegramID() sharedDomain.TelegramID { return a.telegramID }
func (a *Account) Username() string                    { return a.username }
func (a *Account) TrialUsed() bool                     { return a.trialUsed }
func (a *Account) IsBanned() bool                      { return a.banned }

// SetUsername updates the Telegram username seen on the last interaction.
func (a *Account) SetUsername(username string) {
	username = strings.TrimSpace(username)
	if a.username != username {
		a.username = username
		a.Touch()
	}
}

// UseTrial consumes the account's single trial. The persisted flag is the
// authority; repositories flip it with an atomic conditional update and this
// method mirrors that rule in memory.
func (a *Account) UseTrial() error {
	if a.banned {
		return ErrAccountBanned
	}
	if a.trialUsed {
		return ErrTrialAlreadyUsed
	}
	a.trialUsed = true
	a.Touch()
	return nil
}

// Ban blocks the account from all purchases and access checks.
func (a *Account) Ban() {
	if !a.banned {
		a.banned = true
		a.Touch()
		a.AddDomainEvent(NewAccountBanned(a))
	}
}

// Unban restores a banned account.
func (a *Account) Unban() {
	if a.banned {
		a.banned = false
		a.Touch()
		a.AddDomainEvent(NewAccountUnbanned(a))
	}
}

// RehydrateAccount recreates an account from persisted state without
// generating events.
func RehydrateAccount(
	id uuid.UUID,
	telegramID sharedDomain.TelegramID,
	username string,
	trialUsed bool,
	banned bool,
	createdAt time.Time,
	updatedAt time.Time,
	version int,
) *Account {
	baseEntity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	baseAggregate := sharedDomain.RehydrateBaseAggregateRoot(baseEntity, version)

	return &Account{
		BaseAggregateRoot: baseAggregate,
		telegramID:        telegramID,
		username:          username,
		trialUsed:         trialUsed,
		banned:            banned,
	}
}
