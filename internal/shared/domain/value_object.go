package domain

// ValueObject represents an immutable domain concept defined by its attributes.
type ValueObject interface {
	Equals(other ValueObject) bool
}

// TelegramID identifies a Telegram user across bounded contexts.
type TelegramID struct {
	value int64
}

// NewTelegramID creates a TelegramID from the raw Telegram user identifier.
func NewTelegramID(value int64) TelegramID {
	return TelegramID{value: value}
}

// Int64 returns the raw Telegram user identifier.
func (t TelegramID) Int64() int64 {
	return t.value
}

// Equals checks if two TelegramIDs are equal.
func (t TelegramID) Equals(other ValueObject) bool {
	if otherID, ok := other.(TelegramID); ok {
		return t.value == otherID.value
	}
	return false
}

// IsZero returns true if the TelegramID has not been set.
func (t TelegramID) IsZero() bool {
	return t.value == 0
}
