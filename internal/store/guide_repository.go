package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
)

func (r *TenantRepository) GetGuide(ctx context.Context, tenantID uuid.UUID) (*model.Guide, error) {
	query := `
		SELECT tenant_id, current_step, completed_steps, is_completed, is_skipped, created_at, updated_at
		FROM guides
		WHERE tenant_id = $1
	`
	var (
		g         model.Guide
		step      string
		completed []string
	)
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&g.TenantID, &step, &completed, &g.Completed, &g.Skipped, &g.CreatedAt, &g.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get guide", err)
	}
	g.Step = model.GuideStep(step)
	g.CompletedSteps = make([]model.GuideStep, 0, len(completed))
	for _, s := range completed {
		g.CompletedSteps = append(g.CompletedSteps, model.GuideStep(s))
	}
	return &g, nil
}

// SaveGuide upserts the tenant's guide and stamps its timestamps
func (r *TenantRepository) SaveGuide(ctx context.Context, g *model.Guide) error {
	if !g.Step.Valid() {
		return model.ErrInvalidConfiguration
	}
	completed := make([]string, 0, len(g.CompletedSteps))
	for _, s := range g.CompletedSteps {
		completed = append(completed, string(s))
	}

	query := `
		INSERT INTO guides (tenant_id, current_step, completed_steps, is_completed, is_skipped, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (tenant_id) DO UPDATE
		SET current_step = EXCLUDED.current_step,
		    completed_steps = EXCLUDED.completed_steps,
		    is_completed = EXCLUDED.is_completed,
		    is_skipped = EXCLUDED.is_skipped,
		    updated_at = now()
		RETURNING created_at, updated_at
	`
	var createdAt, updatedAt time.Time
	err := r.pool.QueryRow(ctx, query, g.TenantID, string(g.Step), completed, g.Completed, g.Skipped).
		Scan(&createdAt, &updatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return model.ErrTenantNotFound
		}
		return storeErr("save guide", err)
	}
	g.CreatedAt, g.UpdatedAt = createdAt, updatedAt
	return nil
}
