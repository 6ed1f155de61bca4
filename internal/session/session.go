// Package session caches per-tenant auth tokens for remote forwarding targets.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	SchemeBearer = "Bearer"
	SchemeCookie = "Cookie"
)

// Token is the credential obtained by logging into a tenant's remote target.
// For SchemeCookie, Value is a ready-made Cookie header.
type Token struct {
	Value      string    `json:"value"`
	Scheme     string    `json:"scheme"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Apply attaches the token to an outbound request
func (t Token) Apply(req *http.Request) {
	if t.Value == "" {
		return
	}
	switch t.Scheme {
	case SchemeCookie:
		req.Header.Set("Cookie", t.Value)
	default:
		req.Header.Set("Authorization", "Bearer "+t.Value)
	}
}

// Cache is an optimization only: a miss must never change behaviour beyond
// an extra login round trip.
type Cache interface {
	Get(ctx context.Context, tenantID uuid.UUID) (Token, bool)
	Put(ctx context.Context, tenantID uuid.UUID, token Token)
	Invalidate(ctx context.Context, tenantID uuid.UUID)
}
