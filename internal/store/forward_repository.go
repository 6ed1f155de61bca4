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

// CreateForwardRecord appends one forward record. ID and CreatedAt are filled in.
func (r *TenantRepository) CreateForwardRecord(ctx context.Context, record *model.ForwardRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = model.ForwardPending
	}

	query := `
		INSERT INTO forward_records (id, tenant_id, link, status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		record.ID, record.TenantID, record.Link, string(record.Status), record.Detail,
	).Scan(&record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return model.ErrTenantNotFound
		}
		return storeErr("create forward record", err)
	}
	return nil
}

func (r *TenantRepository) ListRecentRecords(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]model.ForwardRecord, error) {
	query := `
		SELECT id, tenant_id, link, status, detail, created_at
		FROM forward_records
		WHERE tenant_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, tenantID, since)
	if err != nil {
		return nil, storeErr("list recent records", err)
	}
	return collectRecords(rows)
}

func (r *TenantRepository) ListRecords(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.ForwardRecord, error) {
	if limit <= 0 {
		limit = DefaultRecordLimit
	}
	query := `
		SELECT id, tenant_id, link, status, detail, created_at
		FROM forward_records
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, storeErr("list records", err)
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]model.ForwardRecord, error) {
	defer rows.Close()

	records := make([]model.ForwardRecord, 0)
	for rows.Next() {
		var (
			rec    model.ForwardRecord
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Link, &status, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, storeErr("scan record", err)
		}
		rec.Status = model.ForwardStatus(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate records", err)
	}
	return records, nil
}

// IncrementStats creates the stats row on first use and bumps the counters in
// the same statement, so concurrent increments never lose an update.
func (r *TenantRepository) IncrementStats(ctx context.Context, tenantID uuid.UUID, success bool) (*model.TenantStats, error) {
	var ok, failed int64
	if success {
		ok = 1
	} else {
		failed = 1
	}

	query := `
		INSERT INTO tenant_stats (tenant_id, total_forwards, successful_forwards, failed_forwards, last_forward_at, created_at, updated_at)
		VALUES ($1, 1, $2, $3, now(), now(), now())
		ON CONFLICT (tenant_id) DO UPDATE
		SET total_forwards = tenant_stats.total_forwards + 1,
		    successful_forwards = tenant_stats.successful_forwards + EXCLUDED.successful_forwards,
		    failed_forwards = tenant_stats.failed_forwards + EXCLUDED.failed_forwards,
		    last_forward_at = EXCLUDED.last_forward_at,
		    updated_at = now()
		RETURNING tenant_id, total_forwards, successful_forwards, failed_forwards, last_forward_at, created_at, updated_at
	`
	stats, err := scanStats(r.pool.QueryRow(ctx, query, tenantID, ok, failed))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, model.ErrTenantNotFound
		}
		return nil, storeErr("increment stats", err)
	}
	return stats, nil
}

func (r *TenantRepository) GetStats(ctx context.Context, tenantID uuid.UUID) (*model.TenantStats, error) {
	query := `
		SELECT tenant_id, total_forwards, successful_forwards, failed_forwards, last_forward_at, created_at, updated_at
		FROM tenant_stats
		WHERE tenant_id = $1
	`
	stats, err := scanStats(r.pool.QueryRow(ctx, query, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get stats", err)
	}
	return stats, nil
}

func scanStats(row pgx.Row) (*model.TenantStats, error) {
	stats := &model.TenantStats{}
	err := row.Scan(&stats.TenantID, &stats.TotalForwards, &stats.SuccessfulForwards,
		&stats.FailedForwards, &stats.LastForwardAt, &stats.CreatedAt, &stats.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
