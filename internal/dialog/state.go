package dialog

import "github.com/teresa-solution/link-forwarding-service/internal/model"

// State is a tenant's position in the settings dialog
type State string

const (
	StateIdle             State = "idle"
	StateMenu             State = "menu"
	StateAwaitingURL      State = "awaiting_url"
	StateAwaitingPassword State = "awaiting_password"
	StateConfirmDelete    State = "confirm_delete"
)

// Claims reports whether the state owns the tenant's next free-text input
func (s State) Claims() bool {
	switch s {
	case StateAwaitingURL, StateAwaitingPassword, StateConfirmDelete:
		return true
	}
	return false
}

// Action is a selection made by the tenant, as opposed to free text
type Action string

const (
	ActionOpen        Action = "open"
	ActionView        Action = "view"
	ActionSetURL      Action = "set_url"
	ActionSetPassword Action = "set_password"
	ActionTest        Action = "test"
	ActionDelete      Action = "delete"
	ActionConfirm     Action = "confirm"
	ActionSkip        Action = "skip"
	ActionCancel      Action = "cancel"
	ActionExit        Action = "exit"
)

var knownActions = map[Action]bool{
	ActionOpen: true, ActionView: true, ActionSetURL: true, ActionSetPassword: true, ActionTest: true,
	ActionDelete: true, ActionConfirm: true, ActionSkip: true, ActionCancel: true, ActionExit: true,
}

// IsAction reports whether name is a dialog action
func IsAction(name string) bool {
	return knownActions[Action(name)]
}

// Input is one event routed to the dialog: an Action, or free Text when Action is empty
type Input struct {
	Action Action
	Text   string
}

// Reply is what the front-end renders after a transition
type Reply struct {
	Text    string   `json:"text"`
	State   State    `json:"state"`
	Actions []Action `json:"actions"`
	// Guide is the onboarding step the reply belongs to, if any
	Guide model.GuideStep `json:"guide_step,omitempty"`
	// Forward is a link the caller should forward on the tenant's behalf
	Forward string `json:"-"`
	// Err is set when the input was rejected or the store failed
	Err error `json:"-"`
}

func actionsFor(s State) []Action {
	switch s {
	case StateMenu:
		return []Action{ActionView, ActionSetURL, ActionSetPassword, ActionTest, ActionDelete, ActionExit}
	case StateAwaitingURL:
		return []Action{ActionCancel, ActionExit}
	case StateAwaitingPassword:
		return []Action{ActionSkip, ActionCancel, ActionExit}
	case StateConfirmDelete:
		return []Action{ActionConfirm, ActionCancel}
	default:
		return []Action{ActionOpen}
	}
}
