package model

import (
	"time"

	"github.com/google/uuid"
)

// GuideStep is a position in the onboarding guide
type GuideStep string

const (
	GuideWelcome        GuideStep = "welcome"
	GuideIntro          GuideStep = "intro_features"
	GuideConfigAPI      GuideStep = "config_api"
	GuideConfigPassword GuideStep = "config_password"
	GuideTestConnection GuideStep = "test_connection"
	GuideSendExample    GuideStep = "send_example"
	GuideCompleted      GuideStep = "completed"
)

var guideOrder = []GuideStep{
	GuideWelcome, GuideIntro, GuideConfigAPI, GuideConfigPassword,
	GuideTestConnection, GuideSendExample, GuideCompleted,
}

// Next returns the following step; completed and unknown steps stay completed
func (s GuideStep) Next() GuideStep {
	for i, step := range guideOrder[:len(guideOrder)-1] {
		if step == s {
			return guideOrder[i+1]
		}
	}
	return GuideCompleted
}

// TakesInput reports whether the step consumes the tenant's free text
func (s GuideStep) TakesInput() bool {
	return s == GuideConfigAPI || s == GuideConfigPassword
}

func (s GuideStep) Valid() bool {
	for _, step := range guideOrder {
		if step == s {
			return true
		}
	}
	return false
}

// Guide represents the guides table: one onboarding run per tenant
type Guide struct {
	TenantID       uuid.UUID   `json:"tenant_id"`
	Step           GuideStep   `json:"current_step"`
	CompletedSteps []GuideStep `json:"completed_steps"`
	Completed      bool        `json:"is_completed"`
	Skipped        bool        `json:"is_skipped"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func NewGuide(tenantID uuid.UUID) *Guide {
	return &Guide{TenantID: tenantID, Step: GuideWelcome, CompletedSteps: []GuideStep{}}
}

// Active reports whether the guide still drives the conversation
func (g *Guide) Active() bool {
	return !g.Completed && !g.Skipped
}

func (g *Guide) HasCompleted(step GuideStep) bool {
	for _, s := range g.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// Advance marks the current step done and moves to the next one
func (g *Guide) Advance() {
	if !g.HasCompleted(g.Step) {
		g.CompletedSteps = append(g.CompletedSteps, g.Step)
	}
	g.Step = g.Step.Next()
	if g.Step == GuideCompleted {
		g.Completed = true
	}
}

// MoveTo jumps to step without marking anything done
func (g *Guide) MoveTo(step GuideStep) {
	g.Step = step
}

func (g *Guide) Finish() {
	g.Step = GuideCompleted
	g.Completed = true
}

func (g *Guide) Skip() {
	g.Skipped = true
}

// Reset starts the guide over from the welcome step
func (g *Guide) Reset() {
	g.Step = GuideWelcome
	g.CompletedSteps = []GuideStep{}
	g.Completed = false
	g.Skipped = false
}
