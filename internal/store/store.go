package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
)

// DefaultRecordLimit caps ListRecords when the caller passes a non-positive limit
const DefaultRecordLimit = 50

// TenantStore covers tenant identity and per-tenant configuration.
// Getters return (nil, nil) when the row does not exist.
type TenantStore interface {
	GetOrCreate(ctx context.Context, platformID string, profile model.Profile) (*model.Tenant, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	GetByPlatformID(ctx context.Context, platformID string) (*model.Tenant, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error

	GetConfig(ctx context.Context, tenantID uuid.UUID) (*model.TenantConfig, error)
	UpsertConfig(ctx context.Context, tenantID uuid.UUID, endpointURL, secret string) (*model.TenantConfig, error)
	DeleteConfig(ctx context.Context, tenantID uuid.UUID) (bool, error)
}

// RecordStore is the append-only forward history
type RecordStore interface {
	CreateForwardRecord(ctx context.Context, record *model.ForwardRecord) error
	ListRecentRecords(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]model.ForwardRecord, error)
	ListRecords(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.ForwardRecord, error)
}

// StatsStore exposes the atomic counter upsert
type StatsStore interface {
	IncrementStats(ctx context.Context, tenantID uuid.UUID, success bool) (*model.TenantStats, error)
	GetStats(ctx context.Context, tenantID uuid.UUID) (*model.TenantStats, error)
}

// GuideStore persists the onboarding guide. GetGuide returns (nil, nil)
// for a tenant that never started it.
type GuideStore interface {
	GetGuide(ctx context.Context, tenantID uuid.UUID) (*model.Guide, error)
	SaveGuide(ctx context.Context, g *model.Guide) error
}

// AdminStore holds the cross-tenant read queries
type AdminStore interface {
	Overview(ctx context.Context) (*model.Overview, error)
	ListTenantDetails(ctx context.Context) ([]model.TenantDetail, error)
}

// Store is the complete persistence surface
type Store interface {
	TenantStore
	RecordStore
	StatsStore
	GuideStore
	AdminStore
	Ping(ctx context.Context) error
	Close()
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrStore, op, err)
}
