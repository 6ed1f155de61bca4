package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Profile is the display snapshot the front-end sends with every event
type Profile struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Tenant represents the tenants table
type Tenant struct {
	ID         uuid.UUID `json:"id"`
	PlatformID string    `json:"platform_id"`
	Username   string    `json:"username"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// TenantConfig represents the tenant_configs table.
// Secret is plaintext in memory; the Postgres store seals it before writing.
type TenantConfig struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	EndpointURL string    `json:"endpoint_url"`
	Secret      string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasSecret reports whether a login secret is configured
func (c *TenantConfig) HasSecret() bool {
	return c != nil && c.Secret != ""
}

// ForwardStatus is the outcome stored on a forward record
type ForwardStatus string

const (
	ForwardSuccess ForwardStatus = "success"
	ForwardFailed  ForwardStatus = "failed"
	ForwardPending ForwardStatus = "pending"
)

// ForwardRecord represents the append-only forward_records table
type ForwardRecord struct {
	ID        uuid.UUID     `json:"id"`
	TenantID  uuid.UUID     `json:"tenant_id"`
	Link      string        `json:"link"`
	Status    ForwardStatus `json:"status"`
	Detail    string        `json:"detail"`
	CreatedAt time.Time     `json:"created_at"`
}

// TenantStats represents the tenant_stats table
type TenantStats struct {
	TenantID           uuid.UUID  `json:"tenant_id"`
	TotalForwards      int64      `json:"total_forwards"`
	SuccessfulForwards int64      `json:"successful_forwards"`
	FailedForwards     int64      `json:"failed_forwards"`
	LastForwardAt      *time.Time `json:"last_forward_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SuccessRate is derived from the counters, never stored
func (s *TenantStats) SuccessRate() float64 {
	if s == nil {
		return 0
	}
	return successRate(s.SuccessfulForwards, s.TotalForwards)
}

// Overview is the cross-tenant aggregate read by the admin surface
type Overview struct {
	TotalTenants       int64   `json:"total_tenants"`
	ActiveTenants      int64   `json:"active_tenants"`
	ConfiguredTenants  int64   `json:"configured_tenants"`
	TotalForwards      int64   `json:"total_forwards"`
	SuccessfulForwards int64   `json:"successful_forwards"`
	FailedForwards     int64   `json:"failed_forwards"`
	SuccessRate        float64 `json:"success_rate"`
}

// FillSuccessRate sets SuccessRate rounded to two decimals
func (o *Overview) FillSuccessRate() {
	o.SuccessRate = math.Round(successRate(o.SuccessfulForwards, o.TotalForwards)*100) / 100
}

// TenantDetail joins a tenant with its optional config and stats
type TenantDetail struct {
	Tenant     *Tenant       `json:"tenant"`
	Configured bool          `json:"configured"`
	Config     *TenantConfig `json:"config,omitempty"`
	Stats      *TenantStats  `json:"stats,omitempty"`
}

func successRate(success, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(success) / float64(total) * 100
}
