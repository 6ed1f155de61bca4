// Package dialog drives the per-tenant settings conversation as a state machine.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/link-forwarding-service/internal/forwarder"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
	"github.com/teresa-solution/link-forwarding-service/internal/monitoring"
)

type ConfigStore interface {
	GetConfig(ctx context.Context, tenantID uuid.UUID) (*model.TenantConfig, error)
	UpsertConfig(ctx context.Context, tenantID uuid.UUID, endpointURL, secret string) (*model.TenantConfig, error)
	DeleteConfig(ctx context.Context, tenantID uuid.UUID) (bool, error)
}

type GuideStore interface {
	GetGuide(ctx context.Context, tenantID uuid.UUID) (*model.Guide, error)
	SaveGuide(ctx context.Context, g *model.Guide) error
}

// Store is everything the settings dialog and the onboarding guide persist
type Store interface {
	ConfigStore
	GuideStore
}

type ConnectionTester interface {
	TestConnection(ctx context.Context, tenant *model.Tenant, cfg *model.TenantConfig) forwarder.ConnectivityReport
}

// SessionInvalidator drops cached remote sessions after the config changes
type SessionInvalidator interface {
	Invalidate(ctx context.Context, tenantID uuid.UUID)
}

type Options struct {
	// SubmissionPath is appended to endpoints entered without a path
	SubmissionPath string
	// IdleTimeout resets an untouched dialog to idle; zero keeps it forever
	IdleTimeout time.Duration
}

type conversation struct {
	mu      sync.Mutex
	state   State
	touched time.Time
}

// Engine holds one conversation per tenant. The map is the only shared
// state; each conversation is locked for the whole of a transition.
type Engine struct {
	mu            sync.Mutex
	conversations map[uuid.UUID]*conversation

	store    Store
	tester   ConnectionTester
	sessions SessionInvalidator
	opts     Options
	now      func() time.Time
}

func NewEngine(store Store, tester ConnectionTester, sessions SessionInvalidator, opts Options) *Engine {
	if opts.SubmissionPath == "" {
		opts.SubmissionPath = forwarder.DefaultSubmissionPath
	}
	return &Engine{
		conversations: make(map[uuid.UUID]*conversation),
		store:         store,
		tester:        tester,
		sessions:      sessions,
		opts:          opts,
		now:           time.Now,
	}
}

func (e *Engine) conversation(tenantID uuid.UUID) *conversation {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.conversations[tenantID]
	if !ok {
		c = &conversation{state: StateIdle, touched: e.now()}
		e.conversations[tenantID] = c
	}
	return c
}

func (e *Engine) lookup(tenantID uuid.UUID) *conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversations[tenantID]
}

// expire must be called with c.mu held
func (e *Engine) expire(c *conversation) {
	if e.opts.IdleTimeout > 0 && c.state != StateIdle && e.now().Sub(c.touched) > e.opts.IdleTimeout {
		c.state = StateIdle
	}
}

// State returns the tenant's current dialog state
func (e *Engine) State(tenantID uuid.UUID) State {
	c := e.lookup(tenantID)
	if c == nil {
		return StateIdle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e.expire(c)
	return c.state
}

// Start opens the menu, discarding any unfinished step
func (e *Engine) Start(ctx context.Context, tenant *model.Tenant) Reply {
	c := e.conversation(tenant.ID)
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state
	c.state = StateMenu
	return e.commit(c, tenant, from, e.menu(""))
}

// Handle applies one input to the tenant's dialog
func (e *Engine) Handle(ctx context.Context, tenant *model.Tenant, in Input) Reply {
	c := e.conversation(tenant.ID)
	c.mu.Lock()
	defer c.mu.Unlock()

	e.expire(c)
	from := c.state
	return e.commit(c, tenant, from, e.transition(ctx, tenant, c.state, in))
}

// Offer hands free text to the dialog only if it is waiting for input. A
// settings step wins over a guide step. The check and the transition happen
// under one lock.
func (e *Engine) Offer(ctx context.Context, tenant *model.Tenant, text string) (Reply, bool) {
	c := e.conversation(tenant.ID)
	c.mu.Lock()
	defer c.mu.Unlock()

	e.expire(c)
	from := c.state
	if c.state.Claims() {
		return e.commit(c, tenant, from, e.transition(ctx, tenant, c.state, Input{Text: text})), true
	}

	g, err := e.store.GetGuide(ctx, tenant.ID)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenant.ID.String()).Msg("Guide lookup failed, treating text as a message")
		return Reply{}, false
	}
	if g == nil || !g.Active() || !g.Step.TakesInput() {
		return Reply{}, false
	}
	return e.commit(c, tenant, from, e.guideInput(ctx, tenant, g, text)), true
}

// Intercept gives a step that is waiting for input the first look at an
// action from outside the settings vocabulary. The step keeps the
// conversation: it either re-prompts or cancels itself.
func (e *Engine) Intercept(ctx context.Context, tenant *model.Tenant, action string) (Reply, bool) {
	c := e.lookup(tenant.ID)
	if c == nil {
		return Reply{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e.expire(c)
	if !c.state.Claims() {
		return Reply{}, false
	}
	from := c.state
	return e.commit(c, tenant, from, e.transition(ctx, tenant, c.state, Input{Action: Action(action)})), true
}

func (e *Engine) commit(c *conversation, tenant *model.Tenant, from State, reply Reply) Reply {
	c.state = reply.State
	c.touched = e.now()
	if reply.Actions == nil {
		reply.Actions = actionsFor(reply.State)
	}
	if from != reply.State {
		monitoring.DialogTransitions.WithLabelValues(string(from), string(reply.State)).Inc()
		log.Debug().
			Str("tenant_id", tenant.ID.String()).
			Str("from", string(from)).
			Str("to", string(reply.State)).
			Msg("Dialog transition")
	}
	return reply
}

func (e *Engine) transition(ctx context.Context, tenant *model.Tenant, state State, in Input) Reply {
	switch state {
	case StateAwaitingURL:
		return e.onAwaitingURL(ctx, tenant, in)
	case StateAwaitingPassword:
		return e.onAwaitingPassword(ctx, tenant, in)
	case StateConfirmDelete:
		return e.onConfirmDelete(ctx, tenant, in)
	case StateIdle:
		if in.Action == "" || in.Action == ActionOpen {
			return e.menu("")
		}
		// a settings action while idle opens the menu implicitly
		return e.onMenu(ctx, tenant, in)
	default:
		return e.onMenu(ctx, tenant, in)
	}
}

func (e *Engine) onMenu(ctx context.Context, tenant *model.Tenant, in Input) Reply {
	switch in.Action {
	case ActionOpen:
		return e.menu("")
	case ActionView:
		return e.view(ctx, tenant)
	case ActionSetURL:
		return Reply{
			State: StateAwaitingURL,
			Text:  "Send the endpoint URL, for example http://host:5000" + e.opts.SubmissionPath,
		}
	case ActionSetPassword:
		cfg, err := e.store.GetConfig(ctx, tenant.ID)
		if err != nil {
			return e.storeFailure(tenant, StateMenu, "get_config", err)
		}
		if cfg == nil {
			return Reply{State: StateMenu, Text: "Set the endpoint URL first.", Err: model.ErrUnconfigured}
		}
		return Reply{State: StateAwaitingPassword, Text: "Send the password, or skip to clear it."}
	case ActionTest:
		return e.test(ctx, tenant)
	case ActionDelete:
		cfg, err := e.store.GetConfig(ctx, tenant.ID)
		if err != nil {
			return e.storeFailure(tenant, StateMenu, "get_config", err)
		}
		if cfg == nil {
			return Reply{State: StateMenu, Text: "There is no configuration to delete.", Err: model.ErrUnconfigured}
		}
		return Reply{State: StateConfirmDelete, Text: "Delete the configuration? Forward history and stats are kept."}
	case ActionExit, ActionCancel:
		return Reply{State: StateIdle, Text: "Settings closed."}
	default:
		return e.menu("Choose one of the options below.")
	}
}

func (e *Engine) onAwaitingURL(ctx context.Context, tenant *model.Tenant, in Input) Reply {
	switch in.Action {
	case ActionCancel:
		return e.menu("Cancelled.")
	case ActionExit:
		return Reply{State: StateIdle, Text: "Settings closed."}
	case "":
	default:
		return Reply{State: StateAwaitingURL, Text: "Waiting for the endpoint URL, or cancel."}
	}

	endpoint, err := e.saveEndpoint(ctx, tenant, in.Text)
	if errors.Is(err, model.ErrInvalidConfiguration) {
		return Reply{State: StateAwaitingURL, Text: invalidURLText(err), Err: err}
	}
	if err != nil {
		return e.storeFailure(tenant, StateMenu, "save_endpoint", err)
	}
	return e.menu("Endpoint saved: " + endpoint)
}

func (e *Engine) onAwaitingPassword(ctx context.Context, tenant *model.Tenant, in Input) Reply {
	switch in.Action {
	case ActionCancel:
		return e.menu("Cancelled.")
	case ActionExit:
		return Reply{State: StateIdle, Text: "Settings closed."}
	case ActionSkip, "":
	default:
		return Reply{State: StateAwaitingPassword, Text: "Waiting for the password, or skip."}
	}

	secret := in.Text
	if in.Action == ActionSkip {
		secret = ""
	} else if strings.TrimSpace(secret) == "" {
		return Reply{State: StateAwaitingPassword, Text: "The password is empty. Send it again, or skip."}
	}

	err := e.saveSecret(ctx, tenant, secret)
	switch {
	case errors.Is(err, model.ErrUnconfigured):
		return e.menu("The configuration was removed. Set the endpoint URL first.")
	case errors.Is(err, model.ErrInvalidConfiguration):
		return Reply{State: StateAwaitingPassword, Text: "That password was rejected: " + detail(err), Err: err}
	case err != nil:
		return e.storeFailure(tenant, StateMenu, "save_secret", err)
	}
	if secret == "" {
		return e.menu("Password cleared.")
	}
	return e.menu("Password saved.")
}

// saveEndpoint normalizes raw and stores it, keeping any stored secret
func (e *Engine) saveEndpoint(ctx context.Context, tenant *model.Tenant, raw string) (string, error) {
	endpoint, err := forwarder.NormalizeEndpoint(raw, e.opts.SubmissionPath)
	if err != nil {
		return "", err
	}
	current, err := e.store.GetConfig(ctx, tenant.ID)
	if err != nil {
		return "", err
	}
	secret := ""
	if current != nil {
		secret = current.Secret
	}
	if _, err := e.store.UpsertConfig(ctx, tenant.ID, endpoint, secret); err != nil {
		return "", err
	}
	e.invalidate(ctx, tenant.ID)
	log.Info().Str("tenant_id", tenant.ID.String()).Str("endpoint", endpoint).Msg("Endpoint configured")
	return endpoint, nil
}

// saveSecret replaces the stored secret. An empty secret clears it.
func (e *Engine) saveSecret(ctx context.Context, tenant *model.Tenant, secret string) error {
	current, err := e.store.GetConfig(ctx, tenant.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return model.ErrUnconfigured
	}
	if _, err := e.store.UpsertConfig(ctx, tenant.ID, current.EndpointURL, secret); err != nil {
		return err
	}
	e.invalidate(ctx, tenant.ID)
	log.Info().Str("tenant_id", tenant.ID.String()).Bool("has_secret", secret != "").Msg("Password updated")
	return nil
}

func (e *Engine) onConfirmDelete(ctx context.Context, tenant *model.Tenant, in Input) Reply {
	if in.Action != ActionConfirm {
		return e.menu("Deletion cancelled.")
	}
	deleted, err := e.store.DeleteConfig(ctx, tenant.ID)
	if err != nil {
		return e.storeFailure(tenant, StateMenu, "delete_config", err)
	}
	e.invalidate(ctx, tenant.ID)
	if !deleted {
		return e.menu("There was no configuration to delete.")
	}
	log.Info().Str("tenant_id", tenant.ID.String()).Msg("Configuration deleted")
	return e.menu("Configuration deleted.")
}

func (e *Engine) view(ctx context.Context, tenant *model.Tenant) Reply {
	cfg, err := e.store.GetConfig(ctx, tenant.ID)
	if err != nil {
		return e.storeFailure(tenant, StateMenu, "get_config", err)
	}
	return Reply{State: StateMenu, Text: describe(cfg)}
}

func (e *Engine) test(ctx context.Context, tenant *model.Tenant) Reply {
	cfg, err := e.store.GetConfig(ctx, tenant.ID)
	if err != nil {
		return e.storeFailure(tenant, StateMenu, "get_config", err)
	}
	if cfg == nil {
		return Reply{State: StateMenu, Text: "Set the endpoint URL first.", Err: model.ErrUnconfigured}
	}
	report := e.tester.TestConnection(ctx, tenant, cfg)
	return Reply{State: StateMenu, Text: reportText(report)}
}

func (e *Engine) menu(notice string) Reply {
	var b strings.Builder
	if notice != "" {
		b.WriteString(notice)
		b.WriteString("\n\n")
	}
	b.WriteString("Settings: view, set_url, set_password, test, delete, exit")
	return Reply{State: StateMenu, Text: b.String()}
}

func (e *Engine) storeFailure(tenant *model.Tenant, next State, op string, err error) Reply {
	log.Error().Err(err).Str("tenant_id", tenant.ID.String()).Str("op", op).Msg("Dialog store operation failed")
	return Reply{State: next, Text: "Settings are temporarily unavailable, try again later.", Err: err}
}

func (e *Engine) invalidate(ctx context.Context, tenantID uuid.UUID) {
	if e.sessions != nil {
		e.sessions.Invalidate(ctx, tenantID)
	}
}

func describe(cfg *model.TenantConfig) string {
	if cfg == nil {
		return "No forwarding endpoint is configured."
	}
	password := "not set"
	if cfg.HasSecret() {
		password = "set"
	}
	return fmt.Sprintf("Endpoint: %s\nPassword: %s\nUpdated: %s",
		cfg.EndpointURL, password, cfg.UpdatedAt.Format(time.RFC3339))
}

func reportText(r forwarder.ConnectivityReport) string {
	switch r.State {
	case forwarder.ConnectedLoggedIn:
		return "Connected, login succeeded."
	case forwarder.ConnectedNoPassword:
		return "Connected (no password set)."
	case forwarder.ConnectedLoginFailed:
		return "Connected, but login failed. Check the password."
	case forwarder.ConnectivityUnconfigured:
		return "Set the endpoint URL first."
	default:
		return "Connection failed: " + r.Message
	}
}

func invalidURLText(err error) string {
	return fmt.Sprintf("That is not a valid URL (%s). Send an http:// or https:// address.", detail(err))
}

// detail strips the sentinel prefix from a wrapped validation error
func detail(err error) string {
	return strings.TrimPrefix(err.Error(), model.ErrInvalidConfiguration.Error()+": ")
}
