package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeviceBinding(t *testing.T) {
	accountID := uuid.New()
	now := time.Now()

	binding, err := NewDeviceBinding(accountID, "  203.0.113.7  ", now)

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, binding.ID())
	assert.Equal(t, accountID, binding.AccountID())
	assert.Equal(t, "203.0.113.7", binding.Fingerprint())
	assert.Equal(t, now, binding.FirstSeenAt())
	assert.Equal(t, now, binding.LastSeenAt())
}

func TestNewDeviceBinding_EmptyFingerprint(t *testing.T) {
	_, err := NewDeviceBinding(uuid.New(), "   ", time.Now())
	assert.ErrorIs(t, err, ErrEmptyFingerprint)
}

func TestNewDeviceBinding_FingerprintTooLong(t *testing.T) {
	_, err := NewDeviceBinding(uuid.New(), strings.Repeat("a", MaxFingerprintLength+1), time.Now())
	assert.ErrorIs(t, err, ErrFingerprintTooLong)
}

func TestDeviceBinding_IsFresh(t *testing.T) {
	now := time.Now()
	window := 24 * time.Hour

	binding, err := NewDeviceBinding(uuid.New(), "203.0.113.7", now.Add(-23*time.Hour))
	require.NoError(t, err)
	assert.True(t, binding.IsFresh(now, window))

	// Exactly at the window edge still counts.
	edge, err := NewDeviceBinding(uuid.New(), "203.0.113.7", now.Add(-window))
	require.NoError(t, err)
	assert.True(t, edge.IsFresh(now, window))

	stale, err := NewDeviceBinding(uuid.New(), "203.0.113.7", now.Add(-25*time.Hour))
	require.NoError(t, err)
	assert.False(t, stale.IsFresh(now, window))
}

func TestRehydrateDeviceBinding(t *testing.T) {
	id := uuid.New()
	accountID := uuid.New()
	first := time.Now().Add(-48 * time.Hour)
	last := time.Now().Add(-time.Hour)

	binding := RehydrateDeviceBinding(id, accountID, "tok_abc123", first, last)

	assert.Equal(t, id, binding.ID())
	assert.Equal(t, accountID, binding.AccountID())
	assert.Equal(t, "tok_abc123", binding.Fingerprint())
	assert.Equal(t, first, binding.FirstSeenAt())
	assert.Equal(t, last, binding.LastSeenAt())
}
