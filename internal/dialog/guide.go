package dialog

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/link-forwarding-service/internal/forwarder"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
)

// Onboarding guide actions
const (
	ActionGuideContinue Action = "continue"
	ActionGuideSkipStep Action = "skip_step"
	ActionGuideSkip     Action = "skip_guide"
	ActionGuideReconfig Action = "reconfig"
	ActionGuideExample  Action = "send_example"
	ActionGuideComplete Action = "complete"
	ActionGuideRestart  Action = "restart"
)

// ExampleLink is forwarded when the tenant asks the guide for a demonstration
const ExampleLink = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

// ErrNoGuide is reported for guide actions before the guide was started
var ErrNoGuide = errors.New("no guide in progress")

var guideActions = map[Action]bool{
	ActionGuideContinue: true, ActionGuideSkipStep: true, ActionGuideSkip: true, ActionGuideReconfig: true,
	ActionGuideExample: true, ActionGuideComplete: true, ActionGuideRestart: true,
}

// IsGuideAction reports whether name is an onboarding guide action
func IsGuideAction(name string) bool {
	return guideActions[Action(name)]
}

const (
	welcomeText = `Welcome! This bot forwards YouTube links to your own service.

The guide walks you through connecting it. Use skip_guide at any time to leave it.`

	introText = `How it works:
  1. You tell the bot where your service runs and, if needed, its password.
  2. You send a YouTube link.
  3. The bot logs in when needed and submits the link to your service.

Every forward is recorded, and stats shows how it went.`

	completedText = `The guide is complete. Send any YouTube link to forward it.
Use settings to change the configuration later.`
)

// StartGuide creates the tenant's guide on first use and resumes it otherwise.
// A finished or skipped guide is only offered a restart.
func (e *Engine) StartGuide(ctx context.Context, tenant *model.Tenant) Reply {
	c := e.conversation(tenant.ID)
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state
	g, err := e.store.GetGuide(ctx, tenant.ID)
	if err != nil {
		return e.commit(c, tenant, from, e.storeFailure(tenant, StateIdle, "get_guide", err))
	}
	switch {
	case g == nil:
		g = model.NewGuide(tenant.ID)
		if err := e.store.SaveGuide(ctx, g); err != nil {
			return e.commit(c, tenant, from, e.storeFailure(tenant, StateIdle, "save_guide", err))
		}
		log.Info().Str("tenant_id", tenant.ID.String()).Msg("Guide started")
	case g.Completed:
		return e.commit(c, tenant, from, Reply{
			State:   StateIdle,
			Text:    "You have already finished the guide. Use settings to change the configuration.",
			Actions: []Action{ActionGuideRestart},
			Guide:   g.Step,
		})
	case g.Skipped:
		return e.commit(c, tenant, from, Reply{
			State:   StateIdle,
			Text:    "You skipped the guide earlier. Use restart to run it from the beginning.",
			Actions: []Action{ActionGuideRestart},
			Guide:   g.Step,
		})
	}
	return e.commit(c, tenant, from, e.enterStep(ctx, tenant, g, ""))
}

// HandleGuide applies one guide action. Starting a guide closes the settings menu.
func (e *Engine) HandleGuide(ctx context.Context, tenant *model.Tenant, action Action) Reply {
	c := e.conversation(tenant.ID)
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state
	return e.commit(c, tenant, from, e.guideAction(ctx, tenant, action))
}

func (e *Engine) guideAction(ctx context.Context, tenant *model.Tenant, action Action) Reply {
	g, err := e.store.GetGuide(ctx, tenant.ID)
	if err != nil {
		return e.storeFailure(tenant, StateIdle, "get_guide", err)
	}
	if g == nil {
		if action != ActionGuideRestart {
			return Reply{State: StateIdle, Text: "No guide in progress. Use start to begin.", Err: ErrNoGuide}
		}
		g = model.NewGuide(tenant.ID)
	}
	if action == ActionGuideRestart {
		g.Reset()
		if err := e.store.SaveGuide(ctx, g); err != nil {
			return e.storeFailure(tenant, StateIdle, "save_guide", err)
		}
		log.Info().Str("tenant_id", tenant.ID.String()).Msg("Guide restarted")
		return e.enterStep(ctx, tenant, g, "")
	}
	if !g.Active() {
		return Reply{
			State:   StateIdle,
			Text:    "The guide is not running. Use restart to run it again.",
			Actions: []Action{ActionGuideRestart},
			Guide:   g.Step,
		}
	}

	notice := ""
	switch action {
	case ActionGuideContinue, ActionGuideSkipStep:
		g.Advance()
	case ActionGuideReconfig:
		g.MoveTo(model.GuideConfigAPI)
	case ActionGuideComplete:
		g.Finish()
	case ActionGuideExample:
		g.Finish()
		notice = "Forwarding the example link " + ExampleLink
	case ActionGuideSkip:
		g.Skip()
		if err := e.store.SaveGuide(ctx, g); err != nil {
			return e.storeFailure(tenant, StateIdle, "save_guide", err)
		}
		log.Info().Str("tenant_id", tenant.ID.String()).Str("step", string(g.Step)).Msg("Guide skipped")
		return Reply{
			State: StateIdle,
			Text:  "Guide skipped. Use settings to configure forwarding, or start to come back to the guide.",
			Guide: g.Step,
		}
	default:
		return e.enterStep(ctx, tenant, g, "Choose one of the options below.")
	}

	if err := e.store.SaveGuide(ctx, g); err != nil {
		return e.storeFailure(tenant, StateIdle, "save_guide", err)
	}
	reply := e.enterStep(ctx, tenant, g, notice)
	if action == ActionGuideExample {
		reply.Forward = ExampleLink
	}
	return reply
}

// guideInput consumes free text at the endpoint and password steps
func (e *Engine) guideInput(ctx context.Context, tenant *model.Tenant, g *model.Guide, text string) Reply {
	text = strings.TrimSpace(text)
	switch g.Step {
	case model.GuideConfigAPI:
		if forwarder.IsSupportedLink(text) {
			return e.reprompt(g, "That is a video link. Send the address of your service first, or skip_step.", model.ErrInvalidConfiguration)
		}
		endpoint, err := e.saveEndpoint(ctx, tenant, withDefaultScheme(text))
		if errors.Is(err, model.ErrInvalidConfiguration) {
			return e.reprompt(g, invalidURLText(err), err)
		}
		if err != nil {
			return e.storeFailure(tenant, StateIdle, "save_endpoint", err)
		}
		return e.advance(ctx, tenant, g, "Endpoint saved: "+endpoint)

	case model.GuideConfigPassword:
		if text == "" {
			return e.reprompt(g, "The password is empty. Send it again, or skip_step.", nil)
		}
		err := e.saveSecret(ctx, tenant, text)
		switch {
		case errors.Is(err, model.ErrUnconfigured):
			g.MoveTo(model.GuideConfigAPI)
			if err := e.store.SaveGuide(ctx, g); err != nil {
				return e.storeFailure(tenant, StateIdle, "save_guide", err)
			}
			return e.enterStep(ctx, tenant, g, "Set the endpoint URL first.")
		case errors.Is(err, model.ErrInvalidConfiguration):
			return e.reprompt(g, "That password was rejected: "+detail(err), err)
		case err != nil:
			return e.storeFailure(tenant, StateIdle, "save_secret", err)
		}
		return e.advance(ctx, tenant, g, "Password saved.")
	}
	return e.enterStep(ctx, tenant, g, "")
}

func (e *Engine) advance(ctx context.Context, tenant *model.Tenant, g *model.Guide, notice string) Reply {
	g.Advance()
	if err := e.store.SaveGuide(ctx, g); err != nil {
		return e.storeFailure(tenant, StateIdle, "save_guide", err)
	}
	return e.enterStep(ctx, tenant, g, notice)
}

// enterStep renders g's current step. The connection test runs on entry and
// sends the tenant back to the endpoint step when nothing is configured.
func (e *Engine) enterStep(ctx context.Context, tenant *model.Tenant, g *model.Guide, notice string) Reply {
	var text string
	switch g.Step {
	case model.GuideWelcome:
		text = welcomeText
	case model.GuideIntro:
		text = introText
	case model.GuideConfigAPI:
		text = "Send the address of your service, for example http://host:5000. " +
			"https:// is assumed when no scheme is given and " + e.opts.SubmissionPath + " is added when the path is empty."
	case model.GuideConfigPassword:
		text = "Send the password of your service, or skip_step if it has none."
	case model.GuideTestConnection:
		cfg, err := e.store.GetConfig(ctx, tenant.ID)
		if err != nil {
			return e.storeFailure(tenant, StateIdle, "get_config", err)
		}
		if cfg == nil {
			g.MoveTo(model.GuideConfigAPI)
			if err := e.store.SaveGuide(ctx, g); err != nil {
				return e.storeFailure(tenant, StateIdle, "save_guide", err)
			}
			return e.enterStep(ctx, tenant, g, joinNotice(notice, "No endpoint is configured yet."))
		}
		report := e.tester.TestConnection(ctx, tenant, cfg)
		text = "Connection test: " + reportText(report) + "\nUse continue to go on, or reconfig to change the address."
	case model.GuideSendExample:
		text = "Last step: send any YouTube link to forward it, or use send_example to forward " + ExampleLink
	default:
		text = completedText
	}
	return Reply{
		State:   StateIdle,
		Text:    joinNotice(notice, text),
		Actions: guideActionsFor(g.Step),
		Guide:   g.Step,
	}
}

func (e *Engine) reprompt(g *model.Guide, text string, err error) Reply {
	return Reply{State: StateIdle, Text: text, Actions: guideActionsFor(g.Step), Guide: g.Step, Err: err}
}

func guideActionsFor(step model.GuideStep) []Action {
	switch step {
	case model.GuideWelcome, model.GuideIntro:
		return []Action{ActionGuideContinue, ActionGuideSkip}
	case model.GuideConfigAPI, model.GuideConfigPassword:
		return []Action{ActionGuideSkipStep, ActionGuideSkip}
	case model.GuideTestConnection:
		return []Action{ActionGuideContinue, ActionGuideReconfig, ActionGuideSkip}
	case model.GuideSendExample:
		return []Action{ActionGuideExample, ActionGuideComplete}
	default:
		return []Action{ActionOpen}
	}
}

func withDefaultScheme(raw string) string {
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + raw
}

func joinNotice(notice, text string) string {
	if notice == "" {
		return text
	}
	return notice + "\n\n" + text
}
