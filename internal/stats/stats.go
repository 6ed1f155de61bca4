// Package stats records forward outcomes as per-tenant counters.
package stats

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
	"github.com/teresa-solution/link-forwarding-service/internal/store"
)

// Aggregator owns all writes to TenantStats. The store performs each
// increment as one atomic statement, so callers never read-modify-write.
type Aggregator struct {
	store store.StatsStore
}

func NewAggregator(s store.StatsStore) *Aggregator {
	return &Aggregator{store: s}
}

// Increment counts one forward attempt for the tenant
func (a *Aggregator) Increment(ctx context.Context, tenantID uuid.UUID, success bool) (*model.TenantStats, error) {
	st, err := a.store.IncrementStats(ctx, tenantID, success)
	if err != nil {
		return nil, fmt.Errorf("failed to increment stats: %w", err)
	}
	log.Debug().
		Str("tenant_id", tenantID.String()).
		Bool("success", success).
		Int64("total", st.TotalForwards).
		Msg("Stats incremented")
	return st, nil
}

// Get returns zeroed stats for a tenant that never forwarded anything
func (a *Aggregator) Get(ctx context.Context, tenantID uuid.UUID) (*model.TenantStats, error) {
	st, err := a.store.GetStats(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return &model.TenantStats{TenantID: tenantID}, nil
	}
	return st, nil
}
