package queries

import (
	"context"
	"time"

	"github.com/pavelzhukov/raylink/internal/devices/domain"
	"github.com/google/uuid"
)

// ListDevicesQuery lists an account's device bindings.
type ListDevicesQuery struct {
	AccountID uuid.UUID
	Now       time.Time
}

// DeviceDTO is one device binding with its freshness at query time.
type DeviceDTO struct {
	Fingerprint string    `json:"fingerprint"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Fresh       bool      `json:"fresh"`
}

// ListDevicesHandler handles the ListDevicesQuery.
type ListDevicesHandler struct {
	bindingRepo     domain.BindingRepository
	freshnessWindow time.Duration
}

// NewListDevicesHandler creates a new ListDevicesHandler.
func NewListDevicesHandler(bindingRepo domain.BindingRepository, freshnessWindow time.Duration) *ListDevicesHandler {
	return &ListDevicesHandler{
		bindingRepo:     bindingRepo,
		freshnessWindow: freshnessWindow,
	}
}

// Handle executes the ListDevicesQuery.
func (h *ListDevicesHandler) Handle(ctx context.Context, query ListDevicesQuery) ([]DeviceDTO, error) {
	now := query.Now
	if now.IsZero() {
		now = time.Now()
	}

	bindings, err := h.bindingRepo.ListByAccount(ctx, query.AccountID)
	if err != nil {
		return nil, err
	}

	devices := make([]DeviceDTO, 0, len(bindings))
	for _, b := range bindings {
		devices = append(devices, DeviceDTO{
			Fingerprint: b.Fingerprint(),
			FirstSeenAt: b.FirstSeenAt(),
			LastSeenAt:  b.LastSeenAt(),
			Fresh:       b.IsFresh(now, h.freshnessWindow),
		})
	}

	return devices, nil
}
