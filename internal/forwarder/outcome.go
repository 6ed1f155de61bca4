package forwarder

import (
	"github.com/google/uuid"
	"github.com/teresa-solution/link-forwarding-service/internal/model"
)

// Kind classifies the terminal result of a forward attempt
type Kind string

const (
	KindSuccess          Kind = "success"
	KindAuthFailed       Kind = "auth_failed"
	KindConnectionFailed Kind = "connection_failed"
	KindServiceError     Kind = "service_error"
	KindUnconfigured     Kind = "unconfigured"
)

// Outcome is returned by Forward instead of an error
type Outcome struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Authenticated is true when the final submission carried a token
	Authenticated bool `json:"authenticated"`
	// LoginFailed is true when a secret is configured but no token could be obtained
	LoginFailed bool `json:"login_failed"`
	// Degraded means the remote call resolved but the record or stats write failed
	Degraded   bool      `json:"degraded"`
	Attempts   int       `json:"attempts"`
	StatusCode int       `json:"status_code,omitempty"`
	RecordID   uuid.UUID `json:"record_id,omitempty"`
}

// Status maps the outcome onto the stored record status
func (o Outcome) Status() model.ForwardStatus {
	if o.Kind == KindSuccess {
		return model.ForwardSuccess
	}
	return model.ForwardFailed
}

// Err returns the sentinel for a failed outcome, nil on success
func (o Outcome) Err() error {
	switch o.Kind {
	case KindSuccess:
		return nil
	case KindAuthFailed:
		return model.ErrAuthFailed
	case KindConnectionFailed:
		return model.ErrConnectionFailed
	case KindUnconfigured:
		return model.ErrUnconfigured
	default:
		return model.ErrServiceError
	}
}

// ConnectivityState is the result of TestConnection
type ConnectivityState string

const (
	ConnectedLoggedIn        ConnectivityState = "connected_logged_in"
	ConnectedNoPassword      ConnectivityState = "connected_no_password"
	ConnectedLoginFailed     ConnectivityState = "connected_login_failed"
	ConnectivityFailed       ConnectivityState = "connection_failed"
	ConnectivityUnconfigured ConnectivityState = "unconfigured"
)

// ConnectivityReport describes a TestConnection check. No record is written for it.
type ConnectivityReport struct {
	State      ConnectivityState `json:"state"`
	StatusCode int               `json:"status_code,omitempty"`
	Message    string            `json:"message"`
}
