package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teresa-solution/link-forwarding-service/internal/crypto"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
	"github.com/teresa-solution/link-forwarding-service/internal/validation"
)

const pgForeignKeyViolation = "23503"

// PoolOptions tunes the pgx pool
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// TenantRepository is the Postgres-backed Store
type TenantRepository struct {
	pool *pgxpool.Pool
	box  *crypto.SecretBox
}

// NewTenantRepository opens a pool for dsn and verifies connectivity
func NewTenantRepository(ctx context.Context, dsn string, opts PoolOptions, box *crypto.SecretBox) (*TenantRepository, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &TenantRepository{pool: pool, box: box}, nil
}

// Pool exposes the underlying pool for migrations
func (r *TenantRepository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *TenantRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *TenantRepository) Close() {
	r.pool.Close()
}

const tenantColumns = `id, platform_id, username, first_name, last_name, active, created_at, last_seen_at`

func scanTenant(row pgx.Row) (*model.Tenant, error) {
	tenant := &model.Tenant{}
	err := row.Scan(&tenant.ID, &tenant.PlatformID, &tenant.Username, &tenant.FirstName,
		&tenant.LastName, &tenant.Active, &tenant.CreatedAt, &tenant.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// GetOrCreate inserts the tenant or, on a platform_id conflict, refreshes the
// display fields and last_seen_at of the existing row. A single statement keeps
// concurrent first contacts from creating duplicates.
func (r *TenantRepository) GetOrCreate(ctx context.Context, platformID string, profile model.Profile) (*model.Tenant, error) {
	platformID = strings.TrimSpace(platformID)
	if platformID == "" {
		return nil, errors.New("platform id is required")
	}

	query := `
		INSERT INTO tenants (id, platform_id, username, first_name, last_name, active, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, now(), now())
		ON CONFLICT (platform_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    last_seen_at = now()
		RETURNING ` + tenantColumns
	tenant, err := scanTenant(r.pool.QueryRow(ctx, query,
		uuid.New(), platformID, profile.Username, profile.FirstName, profile.LastName))
	if err != nil {
		return nil, storeErr("get or create tenant", err)
	}
	return tenant, nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	tenant, err := scanTenant(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get tenant", err)
	}
	return tenant, nil
}

func (r *TenantRepository) GetByPlatformID(ctx context.Context, platformID string) (*model.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE platform_id = $1`
	tenant, err := scanTenant(r.pool.QueryRow(ctx, query, platformID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get tenant by platform id", err)
	}
	return tenant, nil
}

func (r *TenantRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tenants SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return storeErr("set tenant active", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTenantNotFound
	}
	return nil
}

func (r *TenantRepository) GetConfig(ctx context.Context, tenantID uuid.UUID) (*model.TenantConfig, error) {
	query := `
		SELECT tenant_id, endpoint_url, encrypted_secret, secret_iv, created_at, updated_at
		FROM tenant_configs
		WHERE tenant_id = $1
	`
	var (
		cfg        model.TenantConfig
		ciphertext []byte
		iv         []byte
	)
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&cfg.TenantID, &cfg.EndpointURL, &ciphertext, &iv, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get config", err)
	}
	if cfg.Secret, err = r.openSecret(ciphertext, iv); err != nil {
		return nil, storeErr("decrypt secret", err)
	}
	return &cfg, nil
}

// UpsertConfig validates and writes the tenant's endpoint and secret. An empty
// secret clears any stored one.
func (r *TenantRepository) UpsertConfig(ctx context.Context, tenantID uuid.UUID, endpointURL, secret string) (*model.TenantConfig, error) {
	endpointURL = strings.TrimSpace(endpointURL)
	if err := validation.Endpoint(endpointURL); err != nil {
		return nil, err
	}
	if err := validation.Secret(secret); err != nil {
		return nil, err
	}

	var ciphertext, iv []byte
	if secret != "" {
		var err error
		if ciphertext, iv, err = r.sealSecret(secret); err != nil {
			return nil, storeErr("encrypt secret", err)
		}
	}

	query := `
		INSERT INTO tenant_configs (tenant_id, endpoint_url, encrypted_secret, secret_iv, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (tenant_id) DO UPDATE
		SET endpoint_url = EXCLUDED.endpoint_url,
		    encrypted_secret = EXCLUDED.encrypted_secret,
		    secret_iv = EXCLUDED.secret_iv,
		    updated_at = now()
		RETURNING created_at, updated_at
	`
	cfg := &model.TenantConfig{TenantID: tenantID, EndpointURL: endpointURL, Secret: secret}
	err := r.pool.QueryRow(ctx, query, tenantID, endpointURL, ciphertext, iv).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, model.ErrTenantNotFound
		}
		return nil, storeErr("upsert config", err)
	}
	return cfg, nil
}

// DeleteConfig removes only the config row; records and stats stay
func (r *TenantRepository) DeleteConfig(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tenant_configs WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return false, storeErr("delete config", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TenantRepository) sealSecret(secret string) ([]byte, []byte, error) {
	if r.box == nil {
		return []byte(secret), nil, nil
	}
	return r.box.Seal(secret)
}

func (r *TenantRepository) openSecret(ciphertext, iv []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	if r.box == nil || len(iv) == 0 {
		return string(ciphertext), nil
	}
	return r.box.Open(ciphertext, iv)
}
