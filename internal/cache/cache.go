package cache

import (
	"context"
	"time"

	"gudangin/backend/internal/domain"
)

// AlertCache holds the derived inventory-alert view for a short TTL so the
// dashboard polling does not rescan the ledger on every request.
type AlertCache interface {
	Get(ctx context.Context, key string) (*domain.InventoryAlertsResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.InventoryAlertsResponse, ttl time.Duration) error
}

type NoopAlertCache struct{}

func (NoopAlertCache) Get(_ context.Context, _ string) (*domain.InventoryAlertsResponse, bool, error) {
	return nil, false, nil
}

func (NoopAlertCache) Set(_ context.Context, _ string, _ *domain.InventoryAlertsResponse, _ time.Duration) error {
	return nil
}
