package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
)

// runStoreContract exercises the behaviour every Store implementation must share
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("GetOrCreateIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		pid := "pid-" + uuid.NewString()

		first, err := s.GetOrCreate(ctx, pid, model.Profile{Username: "alice", FirstName: "Alice"})
		require.NoError(t, err)
		assert.True(t, first.Active)

		second, err := s.GetOrCreate(ctx, pid, model.Profile{Username: "alice2", FirstName: "Alice", LastName: "L"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "alice2", second.Username)
		assert.Equal(t, "L", second.LastName)
		assert.False(t, second.LastSeenAt.Before(first.LastSeenAt))

		fetched, err := s.GetByPlatformID(ctx, pid)
		require.NoError(t, err)
		assert.Equal(t, first.ID, fetched.ID)
	})

	t.Run("ConcurrentFirstContactCreatesOneTenant", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		pid := "pid-" + uuid.NewString()

		const workers = 16
		ids := make([]uuid.UUID, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tenant, err := s.GetOrCreate(ctx, pid, model.Profile{Username: fmt.Sprintf("u%d", i)})
				if assert.NoError(t, err) {
					ids[i] = tenant.ID
				}
			}(i)
		}
		wg.Wait()

		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("EmptyPlatformIDRejected", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetOrCreate(context.Background(), "  ", model.Profile{})
		assert.Error(t, err)
	})

	t.Run("ConfigLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tenant, err := s.GetOrCreate(ctx, "pid-"+uuid.NewString(), model.Profile{})
		require.NoError(t, err)

		cfg, err := s.GetConfig(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Nil(t, cfg)

		_, err = s.UpsertConfig(ctx, tenant.ID, "not a url", "")
		assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))
		cfg, err = s.GetConfig(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Nil(t, cfg)

		saved, err := s.UpsertConfig(ctx, tenant.ID, "http://host:5000/tasks/add_via_extension", "pw")
		require.NoError(t, err)
		assert.Equal(t, "http://host:5000/tasks/add_via_extension", saved.EndpointURL)

		cfg, err = s.GetConfig(ctx, tenant.ID)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "pw", cfg.Secret)

		_, err = s.UpsertConfig(ctx, tenant.ID, "https://other.example.com/tasks/add_via_extension", "")
		require.NoError(t, err)
		cfg, err = s.GetConfig(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, "https://other.example.com/tasks/add_via_extension", cfg.EndpointURL)
		assert.False(t, cfg.HasSecret())

		deleted, err := s.DeleteConfig(ctx, tenant.ID)
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = s.DeleteConfig(ctx, tenant.ID)
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("UpsertConfigUnknownTenant", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpsertConfig(context.Background(), uuid.New(), "http://host:5000/", "")
		assert.ErrorIs(t, err, model.ErrTenantNotFound)
	})

	t.Run("DeleteConfigKeepsHistory", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tenant, err := s.GetOrCreate(ctx, "pid-"+uuid.NewString(), model.Profile{})
		require.NoError(t, err)
		_, err = s.UpsertConfig(ctx, tenant.ID, "http://host:5000/tasks/add_via_extension", "")
		require.NoError(t, err)

		require.NoError(t, s.CreateForwardRecord(ctx, &model.ForwardRecord{
			TenantID: tenant.ID, Link: "https://youtu.be/abc", Status: model.ForwardSuccess, Detail: "ok",
		}))
		_, err = s.IncrementStats(ctx, tenant.ID, true)
		require.NoError(t, err)

		_, err = s.DeleteConfig(ctx, tenant.ID)
		require.NoError(t, err)

		records, err := s.ListRecords(ctx, tenant.ID, 0)
		require.NoError(t, err)
		assert.Len(t, records, 1)
		stats, err := s.GetStats(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalForwards)
	})

	t.Run("ForwardRecords", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tenant, err := s.GetOrCreate(ctx, "pid-"+uuid.NewString(), model.Profile{})
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			rec := &model.ForwardRecord{TenantID: tenant.ID, Link: fmt.Sprintf("https://youtu.be/%d", i), Status: model.ForwardFailed}
			require.NoError(t, s.CreateForwardRecord(ctx, rec))
			assert.NotEqual(t, uuid.Nil, rec.ID)
			assert.False(t, rec.CreatedAt.IsZero())
		}

		limited, err := s.ListRecords(ctx, tenant.ID, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		recent, err := s.ListRecentRecords(ctx, tenant.ID, time.Now().Add(-7*24*time.Hour))
		require.NoError(t, err)
		assert.Len(t, recent, 3)

		future, err := s.ListRecentRecords(ctx, tenant.ID, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, future)

		err = s.CreateForwardRecord(ctx, &model.ForwardRecord{TenantID: uuid.New(), Link: "x", Status: model.ForwardFailed})
		assert.ErrorIs(t, err, model.ErrTenantNotFound)
	})

	t.Run("IncrementStatsConcurrently", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tenant, err := s.GetOrCreate(ctx, "pid-"+uuid.NewString(), model.Profile{})
		require.NoError(t, err)

		stats, err := s.GetStats(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Nil(t, stats)

		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.IncrementStats(ctx, tenant.ID, i%4 != 0)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		stats, err = s.GetStats(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(40), stats.TotalForwards)
		assert.Equal(t, int64(30), stats.SuccessfulForwards)
		assert.Equal(t, int64(10), stats.FailedForwards)
		assert.Equal(t, stats.TotalForwards, stats.SuccessfulForwards+stats.FailedForwards)
		assert.NotNil(t, stats.LastForwardAt)
		assert.Equal(t, 75.0, stats.SuccessRate())
	})

	t.Run("SetActiveAndOverview", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		before, err := s.Overview(ctx)
		require.NoError(t, err)

		a, err := s.GetOrCreate(ctx, "pid-"+uuid.NewString(), model.Profile{})
		require.NoError(t, err)
		b, err := s.GetOrCreate(ctx, "pid-"+uuid.NewString(), model.Profile{})
		require.NoError(t, err)
		_, err = s.UpsertConfig(ctx, a.ID, "http://host:5000/", "pw")
		require.NoError(t, err)
		require.NoError(t, s.SetActive(ctx, b.ID, false))
		_, err = s.IncrementStats(ctx, a.ID, true)
		require.NoError(t, err)
		_, err = s.IncrementStats(ctx, b.ID, false)
		require.NoError(t, err)

		after, err := s.Overview(ctx)
		require.NoError(t, err)
		assert.Equal(t, before.TotalTenants+2, after.TotalTenants)
		assert.Equal(t, before.ActiveTenants+1, after.ActiveTenants)
		assert.Equal(t, before.ConfiguredTenants+1, after.ConfiguredTenants)
		assert.Equal(t, before.TotalForwards+2, after.TotalForwards)
		assert.Equal(t, after.TotalForwards, after.SuccessfulForwards+after.FailedForwards)

		fetched, err := s.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.False(t, fetched.Active)

		assert.ErrorIs(t, s.SetActive(ctx, uuid.New(), true), model.ErrTenantNotFound)

		details, err := s.ListTenantDetails(ctx)
		require.NoError(t, err)
		found := 0
		for _, d := range details {
			switch d.Tenant.ID {
			case a.ID:
				found++
				assert.True(t, d.Configured)
				require.NotNil(t, d.Config)
				assert.Equal(t, "http://host:5000/", d.Config.EndpointURL)
				assert.Empty(t, d.Config.Secret)
				require.NotNil(t, d.Stats)
				assert.Equal(t, int64(1), d.Stats.SuccessfulForwards)
			case b.ID:
				found++
				assert.False(t, d.Configured)
				require.NotNil(t, d.Stats)
				assert.Equal(t, int64(1), d.Stats.FailedForwards)
			}
		}
		assert.Equal(t, 2, found)

		detail, err := TenantDetail(ctx, s, s, a.ID)
		require.NoError(t, err)
		require.NotNil(t, detail)
		assert.True(t, detail.Configured)

		missing, err := TenantDetail(ctx, s, s, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("GuideRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		tenant, err := s.GetOrCreate(ctx, "pid-"+uuid.NewString(), model.Profile{})
		require.NoError(t, err)

		none, err := s.GetGuide(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Nil(t, none)

		g := model.NewGuide(tenant.ID)
		require.NoError(t, s.SaveGuide(ctx, g))
		assert.False(t, g.CreatedAt.IsZero())
		created := g.CreatedAt

		g.Advance()
		g.Advance()
		require.NoError(t, s.SaveGuide(ctx, g))

		fetched, err := s.GetGuide(ctx, tenant.ID)
		require.NoError(t, err)
		require.NotNil(t, fetched)
		assert.Equal(t, model.GuideConfigAPI, fetched.Step)
		assert.Equal(t, []model.GuideStep{model.GuideWelcome, model.GuideIntro}, fetched.CompletedSteps)
		assert.True(t, fetched.Active())
		assert.True(t, fetched.CreatedAt.Equal(created))

		fetched.Skip()
		require.NoError(t, s.SaveGuide(ctx, fetched))
		skipped, err := s.GetGuide(ctx, tenant.ID)
		require.NoError(t, err)
		assert.True(t, skipped.Skipped)
		assert.False(t, skipped.Active())

		assert.ErrorIs(t, s.SaveGuide(ctx, model.NewGuide(uuid.New())), model.ErrTenantNotFound)
		bad := model.NewGuide(tenant.ID)
		bad.Step = "nowhere"
		assert.ErrorIs(t, s.SaveGuide(ctx, bad), model.ErrInvalidConfiguration)
	})
}
