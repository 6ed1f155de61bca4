package forwarder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
	"github.com/teresa-solution/link-forwarding-service/internal/session"
	"github.com/teresa-solution/link-forwarding-service/internal/stats"
	"github.com/teresa-solution/link-forwarding-service/internal/store"
	"github.com/teresa-solution/link-forwarding-service/internal/tenantlock"
)

const testLink = "https://youtu.be/dQw4w9WgXcQ"

type fakeRemote struct {
	logins      atomic.Int32
	submissions atomic.Int32
	login       http.HandlerFunc
	submit      func(w http.ResponseWriter, r *http.Request, n int32)
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/login":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusOK)
			return
		}
		f.logins.Add(1)
		if f.login != nil {
			f.login(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case "/tasks/add_via_extension":
		n := f.submissions.Add(1)
		if f.submit != nil {
			f.submit(w, r, n)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Task added"})
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// bearerLogin accepts password "secret" and issues tok-1, tok-2, ...
func (f *fakeRemote) bearerLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("password") != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "bad password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": fmt.Sprintf("tok-%d", f.logins.Load())})
	}
}

type harness struct {
	client *Client
	store  *store.MemoryStore
	cache  *session.MemoryCache
	tenant *model.Tenant
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	s := store.NewMemoryStore()
	tenant, err := s.GetOrCreate(context.Background(), "42", model.Profile{Username: "alice"})
	require.NoError(t, err)
	cache := session.NewMemoryCache(30 * time.Minute)
	return &harness{
		client: New(opts, cache, s, stats.NewAggregator(s), tenantlock.New()),
		store:  s,
		cache:  cache,
		tenant: tenant,
	}
}

func (h *harness) config(srv *httptest.Server, secret string) *model.TenantConfig {
	return &model.TenantConfig{
		TenantID:    h.tenant.ID,
		EndpointURL: srv.URL + DefaultSubmissionPath,
		Secret:      secret,
	}
}

func (h *harness) records(t *testing.T) []model.ForwardRecord {
	recs, err := h.store.ListRecords(context.Background(), h.tenant.ID, 0)
	require.NoError(t, err)
	return recs
}

func (h *harness) counters(t *testing.T) *model.TenantStats {
	st, err := h.store.GetStats(context.Background(), h.tenant.ID)
	require.NoError(t, err)
	return st
}

func TestForward_UnconfiguredMakesNoNetworkCall(t *testing.T) {
	remote := &fakeRemote{}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	out := h.client.Forward(context.Background(), h.tenant, nil, testLink)

	assert.Equal(t, KindUnconfigured, out.Kind)
	assert.ErrorIs(t, out.Err(), model.ErrUnconfigured)
	assert.Equal(t, 0, out.Attempts)
	assert.Equal(t, int32(0), remote.logins.Load())
	assert.Equal(t, int32(0), remote.submissions.Load())
	assert.Empty(t, h.records(t))
	assert.Nil(t, h.counters(t))
}

func TestForward_SuccessWithoutSecret(t *testing.T) {
	var gotBody map[string]string
	var gotAuth string
	remote := &fakeRemote{submit: func(w http.ResponseWriter, r *http.Request, n int32) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Task added"})
	}}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	out := h.client.Forward(context.Background(), h.tenant, h.config(srv, ""), testLink)

	assert.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, "Task added", out.Message)
	assert.False(t, out.Authenticated)
	assert.False(t, out.LoginFailed)
	assert.False(t, out.Degraded)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, map[string]string{"youtube_url": testLink}, gotBody)
	assert.Empty(t, gotAuth)
	assert.Equal(t, int32(0), remote.logins.Load())

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ForwardSuccess, recs[0].Status)
	assert.Equal(t, testLink, recs[0].Link)
	assert.Equal(t, out.RecordID, recs[0].ID)
	st := h.counters(t)
	assert.Equal(t, int64(1), st.TotalForwards)
	assert.Equal(t, int64(1), st.SuccessfulForwards)
}

func TestForward_CustomLinkField(t *testing.T) {
	var gotBody map[string]string
	remote := &fakeRemote{submit: func(w http.ResponseWriter, r *http.Request, n int32) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{LinkField: "url"})
	out := h.client.Forward(context.Background(), h.tenant, h.config(srv, ""), testLink)

	assert.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, "accepted", out.Message)
	assert.Equal(t, testLink, gotBody["url"])
}

func TestForward_UnconfirmedSuccessIsServiceError(t *testing.T) {
	remote := &fakeRemote{submit: func(w http.ResponseWriter, r *http.Request, n int32) {
		if n == 1 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<html>ok</html>"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "queue full"})
	}}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	cfg := h.config(srv, "")

	out := h.client.Forward(context.Background(), h.tenant, cfg, testLink)
	assert.Equal(t, KindServiceError, out.Kind)
	assert.Equal(t, "remote returned an unexpected response", out.Message)
	assert.Equal(t, http.StatusOK, out.StatusCode)

	out = h.client.Forward(context.Background(), h.tenant, cfg, testLink)
	assert.Equal(t, KindServiceError, out.Kind)
	assert.Equal(t, "queue full", out.Message)

	recs := h.records(t)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, model.ForwardFailed, rec.Status)
	}
	st := h.counters(t)
	assert.Equal(t, int64(0), st.SuccessfulForwards)
	assert.Equal(t, int64(2), st.FailedForwards)
}

func TestForward_RedirectToLoginReauthenticates(t *testing.T) {
	remote := &fakeRemote{}
	remote.login = remote.bearerLogin()
	remote.submit = func(w http.ResponseWriter, r *http.Request, n int32) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ok"})
	}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	h.cache.Put(context.Background(), h.tenant.ID, session.Token{Value: "expired", Scheme: session.SchemeBearer})

	out := h.client.Forward(context.Background(), h.tenant, h.config(srv, "secret"), testLink)

	assert.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, int32(1), remote.logins.Load())
	assert.Equal(t, int32(2), remote.submissions.Load())
	tok, ok := h.cache.Get(context.Background(), h.tenant.ID)
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok.Value)
}

func TestForward_RedirectToLoginIsAuthFailure(t *testing.T) {
	remote := &fakeRemote{}
	remote.login = remote.bearerLogin()
	remote.submit = func(w http.ResponseWriter, r *http.Request, n int32) {
		http.Redirect(w, r, "/login", http.StatusFound)
	}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})

	out := h.client.Forward(context.Background(), h.tenant, h.config(srv, ""), testLink)
	assert.Equal(t, KindAuthFailed, out.Kind)
	assert.Equal(t, "remote redirected to its login page", out.Message)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, int32(0), remote.logins.Load())

	out = h.client.Forward(context.Background(), h.tenant, h.config(srv, "secret"), testLink)
	assert.Equal(t, KindAuthFailed, out.Kind)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, int32(2), remote.logins.Load())
	assert.Equal(t, int32(3), remote.submissions.Load())

	recs := h.records(t)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, model.ForwardFailed, rec.Status)
	}
	st := h.counters(t)
	assert.Equal(t, int64(0), st.SuccessfulForwards)
	assert.Equal(t, int64(2), st.FailedForwards)
}

func TestForward_ReusesCachedToken(t *testing.T) {
	remote := &fakeRemote{}
	remote.login = remote.bearerLogin()
	remote.submit = func(w http.ResponseWriter, r *http.Request, n int32) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ok"})
	}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	cfg := h.config(srv, "secret")
	for i := 0; i < 3; i++ {
		out := h.client.Forward(context.Background(), h.tenant, cfg, testLink)
		assert.Equal(t, KindSuccess, out.Kind)
		assert.True(t, out.Authenticated)
		assert.Equal(t, 1, out.Attempts)
	}

	assert.Equal(t, int32(1), remote.logins.Load())
	assert.Equal(t, int32(3), remote.submissions.Load())
	tok, ok := h.cache.Get(context.Background(), h.tenant.ID)
	require.True(t, ok)
	assert.Equal(t, session.SchemeBearer, tok.Scheme)
}

func TestForward_ExpiredTokenReloginsOnceAndRetriesOnce(t *testing.T) {
	remote := &fakeRemote{}
	remote.login = remote.bearerLogin()
	remote.submit = func(w http.ResponseWriter, r *http.Request, n int32) {
		if r.Header.Get("Authorization") == "Bearer stale" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ok"})
	}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	h.cache.Put(context.Background(), h.tenant.ID, session.Token{Value: "stale", Scheme: session.SchemeBearer})

	out := h.client.Forward(context.Background(), h.tenant, h.config(srv, "secret"), testLink)

	assert.Equal(t, KindSuccess, out.Kind)
	assert.True(t, out.Authenticated)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, int32(1), remote.logins.Load())
	assert.Equal(t, int32(2), remote.submissions.Load())

	tok, ok := h.cache.Get(context.Background(), h.tenant.ID)
	require.True(t, ok)
	assert.Equal(t, "tok-1", tok.Value)

	require.Len(t, h.records(t), 1)
	assert.Equal(t, int64(1), h.counters(t).TotalForwards)
}

func TestForward_SecondUnauthorizedIsTerminal(t *testing.T) {
	remote := &fakeRemote{}
	remote.login = remote.bearerLogin()
	remote.submit = func(w http.ResponseWriter, r *http.Request, n int32) {
		w.WriteHeader(http.StatusUnauthorized)
	}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	out := h.client.Forward(context.Background(), h.tenant, h.config(srv, "secret"), testLink)

	assert.Equal(t, KindAuthFailed, out.Kind)
	assert.ErrorIs(t, out.Err(), model.ErrAuthFailed)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, http.StatusUnauthorized, out.StatusCode)
	assert.Equal(t, int32(2), remote.submissions.Load())
	assert.Equal(t, int32(2), remote.logins.Load())

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, model.ForwardFailed, recs[0].Status)
	st := h.counters(t)
	assert.Equal(t, int64(1), st.FailedForwards)
	assert.Equal(t, st.TotalForwards, st.SuccessfulForwards+st.FailedForwards)
}

func TestForward_UnauthorizedWithoutSecretDoesNotRetry(t *testing.T) {
	remote := &fakeRemote{submit: func(w http.ResponseWriter, r *http.Request, n int32) {
		w.WriteHeader(http.StatusUnauthorized)
	}}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	out := h.client.Forward(context.Background(), h.tenant, h.config(srv, ""), testLink)

	assert.Equal(t, KindAuthFailed, out.Kind)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, int32(0), remote.logins.Load())
	assert.Equal(t, int32(1), remote.submissions.Load())
}

func TestForward_LoginFailureFallsBackToUnauthenticated(t *testing.T) {
	remote := &fakeRemote{}
	remote.login = remote.bearerLogin()
	remote.submit = func(w http.ResponseWriter, r *http.Request, n int32) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ok"})
	}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	out := h.client.Forward(context.Background(), h.tenant, h.config(srv, "wrong"), testLink)

	assert.Equal(t, KindSuccess, out.Kind)
	assert.False(t, out.Authenticated)
	assert.True(t, out.LoginFailed)
	assert.Equal(t, int32(1), remote.logins.Load())
	assert.Equal(t, int32(1), remote.submissions.Load())
	_, ok := h.cache.Get(context.Background(), h.tenant.ID)
	assert.False(t, ok)
}

func TestForward_CookieSession(t *testing.T) {
	remote := &fakeRemote{}
	remote.login = func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<form>login</form>"))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		http.Redirect(w, r, "/", http.StatusFound)
	}
	remote.submit = func(w http.ResponseWriter, r *http.Request, n int32) {
		ck, err := r.Cookie("session")
		if err != nil || ck.Value != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "queued"})
	}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	out := h.client.Forward(context.Background(), h.tenant, h.config(srv, "secret"), testLink)
	assert.Equal(t, KindSuccess, out.Kind)
	assert.True(t, out.Authenticated)
	assert.Equal(t, "queued", out.Message)

	tok, ok := h.cache.Get(context.Background(), h.tenant.ID)
	require.True(t, ok)
	assert.Equal(t, session.SchemeCookie, tok.Scheme)
	assert.Equal(t, "session=abc", tok.Value)

	h.cache.Invalidate(context.Background(), h.tenant.ID)
	out = h.client.Forward(context.Background(), h.tenant, h.config(srv, "bad"), testLink)
	assert.True(t, out.LoginFailed)
	assert.Equal(t, KindAuthFailed, out.Kind)
}

func TestForward_TimeoutIsConnectionFailed(t *testing.T) {
	remote := &fakeRemote{submit: func(w http.ResponseWriter, r *http.Request, n int32) {
		<-r.Context().Done()
	}}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{Timeout: 50 * time.Millisecond})
	out := h.client.Forward(context.Background(), h.tenant, h.config(srv, ""), testLink)

	assert.Equal(t, KindConnectionFailed, out.Kind)
	assert.ErrorIs(t, out.Err(), model.ErrConnectionFailed)
	assert.Equal(t, "request timed out", out.Message)
	require.Len(t, h.records(t), 1)
	assert.Equal(t, int64(1), h.counters(t).FailedForwards)
}

func TestForward_UnreachableIsConnectionFailed(t *testing.T) {
	srv := httptest.NewServer(&fakeRemote{})
	h := newHarness(t, Options{Timeout: time.Second})
	cfg := h.config(srv, "")
	srv.Close()

	out := h.client.Forward(context.Background(), h.tenant, cfg, testLink)
	assert.Equal(t, KindConnectionFailed, out.Kind)
	assert.Equal(t, 1, out.Attempts)
}

func TestForward_ServiceErrors(t *testing.T) {
	remote := &fakeRemote{submit: func(w http.ResponseWriter, r *http.Request, n int32) {
		if n == 1 {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "boom"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "duplicate task"})
	}}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	cfg := h.config(srv, "")

	out := h.client.Forward(context.Background(), h.tenant, cfg, testLink)
	assert.Equal(t, KindServiceError, out.Kind)
	assert.Equal(t, "remote returned HTTP 500: boom", out.Message)
	assert.Equal(t, 1, out.Attempts)

	out = h.client.Forward(context.Background(), h.tenant, cfg, testLink)
	assert.Equal(t, KindServiceError, out.Kind)
	assert.Equal(t, "duplicate task", out.Message)
	assert.ErrorIs(t, out.Err(), model.ErrServiceError)

	assert.Len(t, h.records(t), 2)
	assert.Equal(t, int64(2), h.counters(t).FailedForwards)
}

type failingRecords struct{}

func (failingRecords) CreateForwardRecord(ctx context.Context, record *model.ForwardRecord) error {
	return fmt.Errorf("%w: disk full", model.ErrStore)
}

func TestForward_StoreFailureIsDegraded(t *testing.T) {
	srv := httptest.NewServer(&fakeRemote{})
	defer srv.Close()

	h := newHarness(t, Options{})
	client := New(Options{}, h.cache, failingRecords{}, stats.NewAggregator(h.store), nil)

	out := client.Forward(context.Background(), h.tenant, h.config(srv, ""), testLink)
	assert.Equal(t, KindSuccess, out.Kind)
	assert.True(t, out.Degraded)
	assert.Equal(t, int64(1), h.counters(t).TotalForwards)
}

func TestForward_ConcurrentSameTenantLogsInOnce(t *testing.T) {
	remote := &fakeRemote{}
	remote.login = remote.bearerLogin()
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	cfg := h.config(srv, "secret")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := h.client.Forward(context.Background(), h.tenant, cfg, testLink)
			assert.Equal(t, KindSuccess, out.Kind)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), remote.logins.Load())
	assert.Equal(t, int32(8), remote.submissions.Load())
	assert.Len(t, h.records(t), 8)
	assert.Equal(t, int64(8), h.counters(t).SuccessfulForwards)
}

func TestTestConnection(t *testing.T) {
	remote := &fakeRemote{}
	remote.login = remote.bearerLogin()
	srv := httptest.NewServer(remote)
	defer srv.Close()

	h := newHarness(t, Options{})
	ctx := context.Background()

	report := h.client.TestConnection(ctx, h.tenant, nil)
	assert.Equal(t, ConnectivityUnconfigured, report.State)

	report = h.client.TestConnection(ctx, h.tenant, h.config(srv, ""))
	assert.Equal(t, ConnectedNoPassword, report.State)
	assert.Equal(t, http.StatusOK, report.StatusCode)

	report = h.client.TestConnection(ctx, h.tenant, h.config(srv, "wrong"))
	assert.Equal(t, ConnectedLoginFailed, report.State)

	report = h.client.TestConnection(ctx, h.tenant, h.config(srv, "secret"))
	assert.Equal(t, ConnectedLoggedIn, report.State)
	_, ok := h.cache.Get(ctx, h.tenant.ID)
	assert.True(t, ok)

	assert.Equal(t, int32(0), remote.submissions.Load())
	assert.Empty(t, h.records(t))
	assert.Nil(t, h.counters(t))

	closed := httptest.NewServer(&fakeRemote{})
	cfg := h.config(closed, "secret")
	closed.Close()
	report = h.client.TestConnection(ctx, h.tenant, cfg)
	assert.Equal(t, ConnectivityFailed, report.State)
}
