// Package service turns inbound front-end events into dialog steps and
// forwards, and exposes the read-only admin view.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/link-forwarding-service/internal/dialog"
	"github.com/teresa-solution/link-forwarding-service/internal/forwarder"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
	"github.com/teresa-solution/link-forwarding-service/internal/stats"
	"github.com/teresa-solution/link-forwarding-service/internal/store"
	"github.com/teresa-solution/link-forwarding-service/internal/validation"
)

// ErrInvalidEvent is returned for events the engine cannot route
var ErrInvalidEvent = errors.New("invalid event")

// Front-end actions handled outside the settings dialog. Start opens the
// onboarding guide; the guide's own actions are listed in package dialog.
const (
	ActionStart    = "start"
	ActionHelp     = "help"
	ActionStats    = "stats"
	ActionSettings = "settings"
)

// Response statuses besides the forward outcome kinds
const (
	StatusOK          = "ok"
	StatusError       = "error"
	StatusHelp        = "help"
	StatusStats       = "stats"
	StatusDisabled    = "disabled"
	StatusUnsupported = "unsupported"
)

const helpText = `Send a YouTube link and it is forwarded to your own service.

Actions:
  start    - run the setup guide
  settings - configure the endpoint URL and password
  stats    - show your forwarding statistics
  help     - show this message`

// Event is one inbound message from the front-end: free Text or an Action
type Event struct {
	PlatformID string        `json:"platform_id" validate:"required,max=128"`
	Profile    model.Profile `json:"profile"`
	Text       string        `json:"text" validate:"max=4096"`
	Action     string        `json:"action" validate:"max=64"`
}

// Response is rendered by the front-end
type Response struct {
	Text     string   `json:"text"`
	Status   string   `json:"status"`
	State    string   `json:"state"`
	Actions  []string `json:"actions,omitempty"`
	Degraded bool     `json:"degraded,omitempty"`
	// GuideStep is set while the onboarding guide drives the reply
	GuideStep string `json:"guide_step,omitempty"`
}

type Forwarder interface {
	Forward(ctx context.Context, tenant *model.Tenant, cfg *model.TenantConfig, link string) forwarder.Outcome
}

type Engine struct {
	tenants   store.TenantStore
	forwarder Forwarder
	dialog    *dialog.Engine
	stats     *stats.Aggregator
}

func NewEngine(tenants store.TenantStore, fwd Forwarder, dlg *dialog.Engine, agg *stats.Aggregator) *Engine {
	return &Engine{
		tenants:   tenants,
		forwarder: fwd,
		dialog:    dlg,
		stats:     agg,
	}
}

// HandleEvent resolves the tenant and routes the event. Forward failures are
// reported in the Response; an error means the event could not be processed.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) (*Response, error) {
	ev.PlatformID = strings.TrimSpace(ev.PlatformID)
	ev.Action = strings.TrimSpace(ev.Action)
	if err := validation.Validator().Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	tenant, err := e.tenants.GetOrCreate(ctx, ev.PlatformID, ev.Profile)
	if err != nil {
		log.Error().Err(err).Str("platform_id", ev.PlatformID).Msg("Failed to resolve tenant")
		return nil, err
	}
	if !tenant.Active {
		return &Response{Text: "Your account is disabled.", Status: StatusDisabled, State: string(dialog.StateIdle)}, nil
	}

	if ev.Action != "" {
		return e.handleAction(ctx, tenant, ev.Action)
	}
	if strings.TrimSpace(ev.Text) == "" {
		return nil, fmt.Errorf("%w: event carries neither text nor action", ErrInvalidEvent)
	}

	if reply, claimed := e.dialog.Offer(ctx, tenant, ev.Text); claimed {
		return e.fromGuide(ctx, tenant, reply)
	}

	text := strings.TrimSpace(ev.Text)
	if !forwarder.IsSupportedLink(text) {
		return e.respond(tenant, &Response{
			Text:   "Send a YouTube link to forward it, or use help.",
			Status: StatusUnsupported,
		}), nil
	}
	return e.forward(ctx, tenant, text)
}

// handleAction routes one action. Settings always reopens the menu; any
// other action is first offered to a settings step waiting for input.
func (e *Engine) handleAction(ctx context.Context, tenant *model.Tenant, action string) (*Response, error) {
	switch {
	case action == ActionSettings:
		return fromReply(e.dialog.Start(ctx, tenant)), nil
	case dialog.IsAction(action):
		return fromReply(e.dialog.Handle(ctx, tenant, dialog.Input{Action: dialog.Action(action)})), nil
	case !isEngineAction(action) && !dialog.IsGuideAction(action):
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidEvent, action)
	}

	if reply, claimed := e.dialog.Intercept(ctx, tenant, action); claimed {
		return fromReply(reply), nil
	}
	switch action {
	case ActionStart:
		return e.fromGuide(ctx, tenant, e.dialog.StartGuide(ctx, tenant))
	case ActionHelp:
		return e.respond(tenant, &Response{Text: helpText, Status: StatusHelp}), nil
	case ActionStats:
		return e.selfStats(ctx, tenant)
	default:
		return e.fromGuide(ctx, tenant, e.dialog.HandleGuide(ctx, tenant, dialog.Action(action)))
	}
}

func isEngineAction(action string) bool {
	return action == ActionStart || action == ActionHelp || action == ActionStats
}

// fromGuide renders a dialog reply and performs the forward a guide step asked for
func (e *Engine) fromGuide(ctx context.Context, tenant *model.Tenant, reply dialog.Reply) (*Response, error) {
	resp := fromReply(reply)
	if reply.Forward == "" {
		return resp, nil
	}
	out, err := e.forward(ctx, tenant, reply.Forward)
	if err != nil {
		return nil, err
	}
	resp.Text += "\n\n" + out.Text
	resp.Status = out.Status
	resp.Degraded = out.Degraded
	return resp, nil
}

func (e *Engine) forward(ctx context.Context, tenant *model.Tenant, link string) (*Response, error) {
	cfg, err := e.tenants.GetConfig(ctx, tenant.ID)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID.String()).Msg("Failed to load tenant config")
		return nil, err
	}

	out := e.forwarder.Forward(ctx, tenant, cfg, link)
	resp := &Response{Text: outcomeText(out), Status: string(out.Kind), Degraded: out.Degraded}
	return e.respond(tenant, resp), nil
}

func (e *Engine) selfStats(ctx context.Context, tenant *model.Tenant) (*Response, error) {
	st, err := e.stats.Get(ctx, tenant.ID)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID.String()).Msg("Failed to load stats")
		return nil, err
	}
	text := fmt.Sprintf("Forwards: %d\nSucceeded: %d\nFailed: %d\nSuccess rate: %.1f%%",
		st.TotalForwards, st.SuccessfulForwards, st.FailedForwards, st.SuccessRate())
	if st.LastForwardAt != nil {
		text += "\nLast forward: " + st.LastForwardAt.Format("2006-01-02 15:04:05")
	}
	return e.respond(tenant, &Response{Text: text, Status: StatusStats}), nil
}

func (e *Engine) respond(tenant *model.Tenant, resp *Response) *Response {
	resp.State = string(e.dialog.State(tenant.ID))
	return resp
}

func fromReply(reply dialog.Reply) *Response {
	resp := &Response{Text: reply.Text, Status: StatusOK, State: string(reply.State), GuideStep: string(reply.Guide)}
	if reply.Err != nil {
		resp.Status = StatusError
	}
	for _, a := range reply.Actions {
		resp.Actions = append(resp.Actions, string(a))
	}
	return resp
}

func outcomeText(out forwarder.Outcome) string {
	var text string
	switch out.Kind {
	case forwarder.KindSuccess:
		text = "Forwarded: " + out.Message
		if out.LoginFailed {
			text += "\n(sent without login: the password was not accepted)"
		}
	case forwarder.KindUnconfigured:
		text = "No endpoint is configured yet. Use settings to set one."
	case forwarder.KindAuthFailed:
		text = "Authentication failed: " + out.Message
	case forwarder.KindConnectionFailed:
		text = "Could not reach your service: " + out.Message
	default:
		text = "Your service returned an error: " + out.Message
	}
	if out.Degraded {
		text += "\n(the result could not be saved to your history)"
	}
	return text
}
