package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
	"github.com/teresa-solution/link-forwarding-service/internal/store"
)

const (
	DefaultRecordDays = 7
	MaxRecordDays     = 365
	MaxRecordLimit    = 500
)

// AdminService is the operator view across all tenants
type AdminService struct {
	store store.Store
	now   func() time.Time
}

func NewAdminService(s store.Store) *AdminService {
	return &AdminService{store: s, now: time.Now}
}

func (a *AdminService) Overview(ctx context.Context) (*model.Overview, error) {
	return a.store.Overview(ctx)
}

func (a *AdminService) ListTenants(ctx context.Context) ([]model.TenantDetail, error) {
	return a.store.ListTenantDetails(ctx)
}

func (a *AdminService) TenantDetail(ctx context.Context, platformID string) (*model.TenantDetail, error) {
	tenant, err := a.tenant(ctx, platformID)
	if err != nil {
		return nil, err
	}
	detail, err := store.TenantDetail(ctx, a.store, a.store, tenant.ID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, model.ErrTenantNotFound
	}
	return detail, nil
}

// RecentRecords lists a tenant's forwards from the last days days, newest first
func (a *AdminService) RecentRecords(ctx context.Context, platformID string, days int) ([]model.ForwardRecord, error) {
	if days == 0 {
		days = DefaultRecordDays
	}
	if days < 0 || days > MaxRecordDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidEvent, MaxRecordDays)
	}
	tenant, err := a.tenant(ctx, platformID)
	if err != nil {
		return nil, err
	}
	since := a.now().Add(-time.Duration(days) * 24 * time.Hour)
	return a.store.ListRecentRecords(ctx, tenant.ID, since)
}

// LatestRecords lists a tenant's newest forwards regardless of age.
// A zero limit falls back to store.DefaultRecordLimit.
func (a *AdminService) LatestRecords(ctx context.Context, platformID string, limit int) ([]model.ForwardRecord, error) {
	if limit < 0 || limit > MaxRecordLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidEvent, MaxRecordLimit)
	}
	tenant, err := a.tenant(ctx, platformID)
	if err != nil {
		return nil, err
	}
	return a.store.ListRecords(ctx, tenant.ID, limit)
}

func (a *AdminService) SetActive(ctx context.Context, platformID string, active bool) (*model.Tenant, error) {
	tenant, err := a.tenant(ctx, platformID)
	if err != nil {
		return nil, err
	}
	if err := a.store.SetActive(ctx, tenant.ID, active); err != nil {
		return nil, err
	}
	tenant.Active = active
	log.Info().
		Str("tenant_id", tenant.ID.String()).
		Str("platform_id", platformID).
		Bool("active", active).
		Msg("Tenant activation changed")
	return tenant, nil
}

func (a *AdminService) tenant(ctx context.Context, platformID string) (*model.Tenant, error) {
	tenant, err := a.store.GetByPlatformID(ctx, platformID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, model.ErrTenantNotFound
	}
	return tenant, nil
}
