package domain

import "errors"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountBanned     = errors.New("account is banned")
	ErrInvalidTelegramID = errors.New("telegram id must be positive")

	ErrTrialAlreadyUsed = errors.New("trial already used")
	ErrTrialDisabled    = errors.New("trial is disabled")

	ErrAccountExists = errors.New("account already registered")

	ErrWindowNotFound       = errors.New("subscription window not found")
	ErrWindowNotActive      = errors.New("subscription window is not active")
	ErrActiveWindowExists   = errors.New("an active window already exists for this server")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrInvalidWindowPeriod  = errors.New("window must end after it starts")
	ErrInvalidSource        = errors.New("invalid subscription source")
	ErrInvalidPlan          = errors.New("unknown subscription plan")

	ErrDuplicatePaymentReference = errors.New("payment reference already processed")
	ErrEmptyPaymentReference     = errors.New("payment reference cannot be empty")

	// ErrVersionConflict signals a lost optimistic-concurrency race. The
	// caller reloads the aggregate and retries.
	ErrVersionConflict = errors.New("aggregate version conflict")

	ErrNotificationAlreadySent = errors.New("notification threshold already passed")
)
