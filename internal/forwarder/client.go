// Package forwarder submits links to a tenant's remote target, logging in
// with the tenant's secret and re-authenticating once on expiry.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
	"github.com/teresa-solution/link-forwarding-service/internal/monitoring"
	"github.com/teresa-solution/link-forwarding-service/internal/session"
	"github.com/teresa-solution/link-forwarding-service/internal/tenantlock"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 64 << 10
)

type Options struct {
	Timeout        time.Duration
	LoginPath      string
	SubmissionPath string
	LinkField      string
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.LoginPath == "" {
		o.LoginPath = DefaultLoginPath
	}
	if o.SubmissionPath == "" {
		o.SubmissionPath = DefaultSubmissionPath
	}
	if o.LinkField == "" {
		o.LinkField = DefaultLinkField
	}
}

type RecordWriter interface {
	CreateForwardRecord(ctx context.Context, record *model.ForwardRecord) error
}

type StatsRecorder interface {
	Increment(ctx context.Context, tenantID uuid.UUID, success bool) (*model.TenantStats, error)
}

type Client struct {
	opts     Options
	http     *http.Client
	sessions session.Cache
	records  RecordWriter
	stats    StatsRecorder
	locks    *tenantlock.Locker
}

func New(opts Options, sessions session.Cache, records RecordWriter, stats StatsRecorder, locks *tenantlock.Locker) *Client {
	opts.setDefaults()
	if locks == nil {
		locks = tenantlock.New()
	}
	return &Client{
		opts:     opts,
		http:     &http.Client{Timeout: opts.Timeout},
		sessions: sessions,
		records:  records,
		stats:    stats,
		locks:    locks,
	}
}

type phase int

const (
	phaseAttempt phase = iota
	phaseReauth
	phaseRetry
	phaseTerminal
)

type response struct {
	status int
	body   []byte
	err    error
	// onLoginPage is set when redirects ended on the remote login form
	onLoginPage bool
}

// unauthorized reports a completed exchange the remote refused for lack of a valid session
func (r response) unauthorized() bool {
	return r.err == nil && (r.status == http.StatusUnauthorized || r.onLoginPage)
}

type submitResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

type loginResponse struct {
	Success     *bool  `json:"success"`
	Message     string `json:"message"`
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// Forward submits link for the tenant. It never returns an error: every
// failure is classified into the Outcome. Each resolved attempt writes one
// ForwardRecord and one stats increment; an unconfigured tenant writes neither.
func (c *Client) Forward(ctx context.Context, tenant *model.Tenant, cfg *model.TenantConfig, link string) Outcome {
	if cfg == nil || cfg.EndpointURL == "" {
		monitoring.ForwardsTotal.WithLabelValues(string(KindUnconfigured)).Inc()
		return Outcome{Kind: KindUnconfigured, Message: "no forwarding endpoint is configured"}
	}

	start := time.Now()
	unlock := c.locks.Lock(tenant.ID)
	out := c.attempt(ctx, tenant.ID, cfg, link)
	unlock()
	monitoring.ForwardDuration.Observe(time.Since(start).Seconds())
	monitoring.ForwardsTotal.WithLabelValues(string(out.Kind)).Inc()

	c.record(ctx, tenant.ID, link, &out)

	log.Info().
		Str("tenant_id", tenant.ID.String()).
		Str("platform_id", tenant.PlatformID).
		Str("outcome", string(out.Kind)).
		Int("attempts", out.Attempts).
		Int("status_code", out.StatusCode).
		Bool("authenticated", out.Authenticated).
		Bool("degraded", out.Degraded).
		Msg("Link forwarded")
	return out
}

// attempt runs Attempt -> ReauthIfNeeded -> RetryOnce -> Terminal.
// The retry phase always moves to Terminal, so at most two submissions happen.
func (c *Client) attempt(ctx context.Context, tenantID uuid.UUID, cfg *model.TenantConfig, link string) Outcome {
	var out Outcome
	var token *session.Token
	if cfg.HasSecret() {
		token = c.acquireToken(ctx, tenantID, cfg)
		out.LoginFailed = token == nil
	}

	loginPath := ""
	if loginURL, err := LoginURL(cfg.EndpointURL, c.opts.SubmissionPath, c.opts.LoginPath); err == nil {
		loginPath = mustPath(loginURL)
	}

	var res response
	for p := phaseAttempt; p != phaseTerminal; {
		switch p {
		case phaseAttempt, phaseRetry:
			res = c.submit(ctx, cfg.EndpointURL, link, token, loginPath)
			out.Attempts++
			out.Authenticated = token != nil
			if p == phaseAttempt && res.unauthorized() && cfg.HasSecret() {
				p = phaseReauth
			} else {
				p = phaseTerminal
			}
		case phaseReauth:
			c.sessions.Invalidate(ctx, tenantID)
			token = c.freshToken(ctx, tenantID, cfg)
			out.LoginFailed = token == nil
			if token == nil {
				p = phaseTerminal
			} else {
				p = phaseRetry
			}
		}
	}

	classify(res, &out)
	return out
}

func (c *Client) acquireToken(ctx context.Context, tenantID uuid.UUID, cfg *model.TenantConfig) *session.Token {
	if tok, ok := c.sessions.Get(ctx, tenantID); ok {
		return &tok
	}
	return c.freshToken(ctx, tenantID, cfg)
}

func (c *Client) freshToken(ctx context.Context, tenantID uuid.UUID, cfg *model.TenantConfig) *session.Token {
	tok, err := c.login(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("Remote login failed")
		return nil
	}
	c.sessions.Put(ctx, tenantID, tok)
	return &tok
}

func (c *Client) submit(ctx context.Context, endpoint, link string, token *session.Token, loginPath string) response {
	payload, err := json.Marshal(map[string]string{c.opts.LinkField: link})
	if err != nil {
		return response{err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return response{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != nil {
		token.Apply(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{status: resp.StatusCode, err: fmt.Errorf("failed to read response body: %w", err)}
	}
	onLogin := loginPath != "" && resp.Request != nil && resp.Request.URL.Path == loginPath
	return response{status: resp.StatusCode, body: body, onLoginPage: onLogin}
}

// login posts the secret as a form to the derived login route. A JSON token
// becomes a Bearer token; otherwise the cookies set during the exchange are used.
func (c *Client) login(ctx context.Context, cfg *model.TenantConfig) (session.Token, error) {
	loginURL, err := LoginURL(cfg.EndpointURL, c.opts.SubmissionPath, c.opts.LoginPath)
	if err != nil {
		return session.Token{}, err
	}
	endpoint, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return session.Token{}, fmt.Errorf("%w: %v", model.ErrInvalidConfiguration, err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return session.Token{}, err
	}
	client := &http.Client{Transport: c.http.Transport, Timeout: c.http.Timeout, Jar: jar}

	form := url.Values{"password": {cfg.Secret}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return session.Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		monitoring.RemoteLogins.WithLabelValues("error").Inc()
		return session.Token{}, fmt.Errorf("%w: %s", model.ErrConnectionFailed, connectionMessage(err))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		monitoring.RemoteLogins.WithLabelValues("rejected").Inc()
		return session.Token{}, fmt.Errorf("%w: login http status: %d", model.ErrAuthFailed, resp.StatusCode)
	}

	var lr loginResponse
	confirmed := false
	if json.Unmarshal(body, &lr) == nil {
		if tok := firstNonEmpty(lr.Token, lr.AccessToken); tok != "" {
			monitoring.RemoteLogins.WithLabelValues("success").Inc()
			return session.Token{Value: tok, Scheme: session.SchemeBearer, AcquiredAt: time.Now()}, nil
		}
		if lr.Success != nil && !*lr.Success {
			monitoring.RemoteLogins.WithLabelValues("rejected").Inc()
			return session.Token{}, fmt.Errorf("%w: %s", model.ErrAuthFailed, firstNonEmpty(lr.Message, "login rejected"))
		}
		confirmed = lr.Success != nil && *lr.Success
	}

	// landing back on the login form means the password was not accepted
	if !confirmed && resp.Request != nil && resp.Request.URL.Path == mustPath(loginURL) {
		monitoring.RemoteLogins.WithLabelValues("rejected").Inc()
		return session.Token{}, fmt.Errorf("%w: login form returned again", model.ErrAuthFailed)
	}

	cookies := jar.Cookies(endpoint)
	if len(cookies) == 0 {
		monitoring.RemoteLogins.WithLabelValues("rejected").Inc()
		return session.Token{}, fmt.Errorf("%w: login returned no session", model.ErrAuthFailed)
	}
	parts := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	monitoring.RemoteLogins.WithLabelValues("success").Inc()
	return session.Token{Value: strings.Join(parts, "; "), Scheme: session.SchemeCookie, AcquiredAt: time.Now()}, nil
}

func (c *Client) record(ctx context.Context, tenantID uuid.UUID, link string, out *Outcome) {
	// the remote call already happened; persist even if the caller went away
	ctx = context.WithoutCancel(ctx)

	rec := &model.ForwardRecord{
		TenantID: tenantID,
		Link:     link,
		Status:   out.Status(),
		Detail:   fmt.Sprintf("%s: %s", out.Kind, out.Message),
	}
	if err := c.records.CreateForwardRecord(ctx, rec); err != nil {
		out.Degraded = true
		monitoring.Alert("create_forward_record", err.Error(), map[string]string{"tenant_id": tenantID.String()})
	} else {
		out.RecordID = rec.ID
	}

	if _, err := c.stats.Increment(ctx, tenantID, out.Kind == KindSuccess); err != nil {
		out.Degraded = true
		monitoring.Alert("increment_stats", err.Error(), map[string]string{"tenant_id": tenantID.String()})
	}
}

// TestConnection checks the login route, falling back to the endpoint, and
// logs in when a secret is set. It writes no ForwardRecord.
func (c *Client) TestConnection(ctx context.Context, tenant *model.Tenant, cfg *model.TenantConfig) ConnectivityReport {
	if cfg == nil || cfg.EndpointURL == "" {
		return ConnectivityReport{State: ConnectivityUnconfigured, Message: "no forwarding endpoint is configured"}
	}

	loginURL, err := LoginURL(cfg.EndpointURL, c.opts.SubmissionPath, c.opts.LoginPath)
	if err != nil {
		return ConnectivityReport{State: ConnectivityFailed, Message: err.Error()}
	}
	status, err := c.reach(ctx, loginURL)
	if err != nil {
		status, err = c.reach(ctx, cfg.EndpointURL)
		if err != nil {
			return ConnectivityReport{State: ConnectivityFailed, Message: connectionMessage(err)}
		}
	}

	if !cfg.HasSecret() {
		return ConnectivityReport{State: ConnectedNoPassword, StatusCode: status, Message: "connected, no password set"}
	}

	unlock := c.locks.Lock(tenant.ID)
	defer unlock()

	tok, err := c.login(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenant.ID.String()).Msg("Connection test login failed")
		return ConnectivityReport{State: ConnectedLoginFailed, StatusCode: status, Message: "connected, but login failed: check the password"}
	}
	c.sessions.Put(ctx, tenant.ID, tok)
	return ConnectivityReport{State: ConnectedLoggedIn, StatusCode: status, Message: "connected and logged in"}
}

func (c *Client) reach(ctx context.Context, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return resp.StatusCode, nil
}

func classify(res response, out *Outcome) {
	out.StatusCode = res.status
	switch {
	case res.err != nil:
		out.Kind = KindConnectionFailed
		out.Message = connectionMessage(res.err)
	case res.unauthorized():
		out.Kind = KindAuthFailed
		switch {
		case out.LoginFailed:
			out.Message = "login failed, check the password"
		case res.onLoginPage:
			out.Message = "remote redirected to its login page"
		default:
			out.Message = "remote rejected the credentials"
		}
	case res.status >= 200 && res.status < 300:
		// only an explicit {"success": true} counts as submitted
		var body submitResponse
		if err := json.Unmarshal(res.body, &body); err != nil {
			out.Kind = KindServiceError
			out.Message = "remote returned an unexpected response"
			return
		}
		if body.Success == nil || !*body.Success {
			out.Kind = KindServiceError
			out.Message = firstNonEmpty(body.Message, "remote did not confirm the submission")
			return
		}
		out.Kind = KindSuccess
		out.Message = firstNonEmpty(body.Message, "accepted")
	default:
		out.Kind = KindServiceError
		out.Message = fmt.Sprintf("remote returned HTTP %d", res.status)
		var body submitResponse
		if json.Unmarshal(res.body, &body) == nil && body.Message != "" {
			out.Message += ": " + body.Message
		}
	}
}

func connectionMessage(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "request timed out"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "could not resolve host " + dnsErr.Name
	}
	return "could not reach the remote service: " + err.Error()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func mustPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}
