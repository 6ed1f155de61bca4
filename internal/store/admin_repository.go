package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
)

func (r *TenantRepository) Overview(ctx context.Context) (*model.Overview, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM tenants),
			(SELECT COUNT(*) FROM tenants WHERE active),
			(SELECT COUNT(*) FROM tenant_configs),
			COALESCE(SUM(total_forwards), 0),
			COALESCE(SUM(successful_forwards), 0),
			COALESCE(SUM(failed_forwards), 0)
		FROM tenant_stats
	`
	o := &model.Overview{}
	err := r.pool.QueryRow(ctx, query).Scan(
		&o.TotalTenants, &o.ActiveTenants, &o.ConfiguredTenants,
		&o.TotalForwards, &o.SuccessfulForwards, &o.FailedForwards,
	)
	if err != nil {
		return nil, storeErr("overview", err)
	}
	o.FillSuccessRate()
	return o, nil
}

// ListTenantDetails returns every tenant joined with its config and stats, newest first.
// Secrets are not read: the listing only reports whether a tenant is configured.
func (r *TenantRepository) ListTenantDetails(ctx context.Context) ([]model.TenantDetail, error) {
	query := `
		SELECT t.id, t.platform_id, t.username, t.first_name, t.last_name, t.active, t.created_at, t.last_seen_at,
		       c.endpoint_url, c.created_at, c.updated_at,
		       s.total_forwards, s.successful_forwards, s.failed_forwards, s.last_forward_at, s.created_at, s.updated_at
		FROM tenants t
		LEFT JOIN tenant_configs c ON c.tenant_id = t.id
		LEFT JOIN tenant_stats s ON s.tenant_id = t.id
		ORDER BY t.created_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, storeErr("list tenant details", err)
	}
	defer rows.Close()

	details := make([]model.TenantDetail, 0)
	for rows.Next() {
		var (
			tenant     model.Tenant
			endpoint   *string
			cfgCreated *time.Time
			cfgUpdated *time.Time
			total      *int64
			success    *int64
			failed     *int64
			lastFwd    *time.Time
			stCreated  *time.Time
			stUpdated  *time.Time
		)
		err := rows.Scan(
			&tenant.ID, &tenant.PlatformID, &tenant.Username, &tenant.FirstName, &tenant.LastName,
			&tenant.Active, &tenant.CreatedAt, &tenant.LastSeenAt,
			&endpoint, &cfgCreated, &cfgUpdated,
			&total, &success, &failed, &lastFwd, &stCreated, &stUpdated,
		)
		if err != nil {
			return nil, storeErr("scan tenant detail", err)
		}

		detail := model.TenantDetail{Tenant: &tenant}
		if endpoint != nil {
			detail.Configured = true
			detail.Config = &model.TenantConfig{
				TenantID:    tenant.ID,
				EndpointURL: *endpoint,
				CreatedAt:   deref(cfgCreated),
				UpdatedAt:   deref(cfgUpdated),
			}
		}
		if total != nil {
			detail.Stats = &model.TenantStats{
				TenantID:           tenant.ID,
				TotalForwards:      *total,
				SuccessfulForwards: *success,
				FailedForwards:     *failed,
				LastForwardAt:      lastFwd,
				CreatedAt:          deref(stCreated),
				UpdatedAt:          deref(stUpdated),
			}
		}
		details = append(details, detail)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate tenant details", err)
	}
	return details, nil
}

// TenantDetail assembles one tenant's detail; nil when the tenant does not exist
func TenantDetail(ctx context.Context, s TenantStore, stats StatsStore, tenantID uuid.UUID) (*model.TenantDetail, error) {
	tenant, err := s.GetByID(ctx, tenantID)
	if err != nil || tenant == nil {
		return nil, err
	}
	cfg, err := s.GetConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	st, err := stats.GetStats(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &model.TenantDetail{Tenant: tenant, Configured: cfg != nil, Config: cfg, Stats: st}, nil
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
