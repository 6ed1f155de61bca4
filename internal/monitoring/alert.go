package monitoring

import (
	"github.com/rs/zerolog/log"
)

// Alert logs an alert-level line for failures an operator must look at.
// The op label is also counted in StoreErrors.
func Alert(op, message string, labels map[string]string) {
	StoreErrors.WithLabelValues(op).Inc()
	ev := log.Error().Str("alert", message).Str("op", op)
	for k, v := range labels {
		ev = ev.Str(k, v)
	}
	ev.Msg("ALERT: degraded operation")
}
