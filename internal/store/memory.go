package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
	"github.com/teresa-solution/link-forwarding-service/internal/validation"
)

// MemoryStore is an in-process Store for development and tests.
// It keeps the same constraints as the Postgres schema.
type MemoryStore struct {
	mu         sync.RWMutex
	tenants    map[uuid.UUID]*model.Tenant
	byPlatform map[string]uuid.UUID
	configs    map[uuid.UUID]*model.TenantConfig
	records    []model.ForwardRecord
	stats      map[uuid.UUID]*model.TenantStats
	guides     map[uuid.UUID]*model.Guide
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:    make(map[uuid.UUID]*model.Tenant),
		byPlatform: make(map[string]uuid.UUID),
		configs:    make(map[uuid.UUID]*model.TenantConfig),
		stats:      make(map[uuid.UUID]*model.TenantStats),
		guides:     make(map[uuid.UUID]*model.Guide),
		now:        time.Now,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) GetOrCreate(ctx context.Context, platformID string, profile model.Profile) (*model.Tenant, error) {
	platformID = strings.TrimSpace(platformID)
	if platformID == "" {
		return nil, errors.New("platform id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.byPlatform[platformID]; ok {
		t := s.tenants[id]
		t.Username = profile.Username
		t.FirstName = profile.FirstName
		t.LastName = profile.LastName
		t.LastSeenAt = now
		cp := *t
		return &cp, nil
	}

	t := &model.Tenant{
		ID:         uuid.New(),
		PlatformID: platformID,
		Username:   profile.Username,
		FirstName:  profile.FirstName,
		LastName:   profile.LastName,
		Active:     true,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	s.tenants[t.ID] = t
	s.byPlatform[platformID] = t.ID
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetByPlatformID(ctx context.Context, platformID string) (*model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPlatform[platformID]
	if !ok {
		return nil, nil
	}
	cp := *s.tenants[id]
	return &cp, nil
}

func (s *MemoryStore) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok {
		return model.ErrTenantNotFound
	}
	t.Active = active
	return nil
}

func (s *MemoryStore) GetConfig(ctx context.Context, tenantID uuid.UUID) (*model.TenantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) UpsertConfig(ctx context.Context, tenantID uuid.UUID, endpointURL, secret string) (*model.TenantConfig, error) {
	endpointURL = strings.TrimSpace(endpointURL)
	if err := validation.Endpoint(endpointURL); err != nil {
		return nil, err
	}
	if err := validation.Secret(secret); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[tenantID]; !ok {
		return nil, model.ErrTenantNotFound
	}
	now := s.now()
	cfg, ok := s.configs[tenantID]
	if !ok {
		cfg = &model.TenantConfig{TenantID: tenantID, CreatedAt: now}
		s.configs[tenantID] = cfg
	}
	cfg.EndpointURL = endpointURL
	cfg.Secret = secret
	cfg.UpdatedAt = now
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) DeleteConfig(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[tenantID]; !ok {
		return false, nil
	}
	delete(s.configs, tenantID)
	return true, nil
}

func (s *MemoryStore) CreateForwardRecord(ctx context.Context, record *model.ForwardRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[record.TenantID]; !ok {
		return model.ErrTenantNotFound
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = model.ForwardPending
	}
	record.CreatedAt = s.now()
	s.records = append(s.records, *record)
	return nil
}

func (s *MemoryStore) ListRecentRecords(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]model.ForwardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ForwardRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if rec.TenantID == tenantID && !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) ListRecords(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.ForwardRecord, error) {
	if limit <= 0 {
		limit = DefaultRecordLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ForwardRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if rec.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) IncrementStats(ctx context.Context, tenantID uuid.UUID, success bool) (*model.TenantStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[tenantID]; !ok {
		return nil, model.ErrTenantNotFound
	}
	now := s.now()
	st, ok := s.stats[tenantID]
	if !ok {
		st = &model.TenantStats{TenantID: tenantID, CreatedAt: now}
		s.stats[tenantID] = st
	}
	st.TotalForwards++
	if success {
		st.SuccessfulForwards++
	} else {
		st.FailedForwards++
	}
	st.LastForwardAt = &now
	st.UpdatedAt = now
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) GetStats(ctx context.Context, tenantID uuid.UUID) (*model.TenantStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) Overview(ctx context.Context) (*model.Overview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o := &model.Overview{
		TotalTenants:      int64(len(s.tenants)),
		ConfiguredTenants: int64(len(s.configs)),
	}
	for _, t := range s.tenants {
		if t.Active {
			o.ActiveTenants++
		}
	}
	for _, st := range s.stats {
		o.TotalForwards += st.TotalForwards
		o.SuccessfulForwards += st.SuccessfulForwards
		o.FailedForwards += st.FailedForwards
	}
	o.FillSuccessRate()
	return o, nil
}

func (s *MemoryStore) ListTenantDetails(ctx context.Context) ([]model.TenantDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	details := make([]model.TenantDetail, 0, len(s.tenants))
	for id, t := range s.tenants {
		tenant := *t
		detail := model.TenantDetail{Tenant: &tenant}
		if cfg, ok := s.configs[id]; ok {
			cp := *cfg
			cp.Secret = ""
			detail.Configured = true
			detail.Config = &cp
		}
		if st, ok := s.stats[id]; ok {
			cp := *st
			detail.Stats = &cp
		}
		details = append(details, detail)
	}
	sort.Slice(details, func(i, j int) bool {
		return details[i].Tenant.CreatedAt.After(details[j].Tenant.CreatedAt)
	})
	return details, nil
}

func sortNewestFirst(records []model.ForwardRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

func (s *MemoryStore) GetGuide(ctx context.Context, tenantID uuid.UUID) (*model.Guide, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.guides[tenantID]
	if !ok {
		return nil, nil
	}
	return copyGuide(g), nil
}

func (s *MemoryStore) SaveGuide(ctx context.Context, g *model.Guide) error {
	if !g.Step.Valid() {
		return model.ErrInvalidConfiguration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[g.TenantID]; !ok {
		return model.ErrTenantNotFound
	}
	now := s.now()
	stored := copyGuide(g)
	if prev, ok := s.guides[g.TenantID]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.guides[g.TenantID] = stored
	g.CreatedAt, g.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

func copyGuide(g *model.Guide) *model.Guide {
	cp := *g
	cp.CompletedSteps = append([]model.GuideStep{}, g.CompletedSteps...)
	return &cp
}
