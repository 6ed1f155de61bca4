package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	ForwardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forwards_total",
			Help: "Total number of forward attempts by outcome",
		},
		[]string{"outcome"},
	)
	ForwardDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forward_duration_seconds",
			Help:    "Duration of a forward attempt including login and retry",
			Buckets: prometheus.DefBuckets,
		},
	)
	RemoteLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_logins_total",
			Help: "Login calls against tenant endpoints by result",
		},
		[]string{"result"},
	)
	SessionCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_cache_lookups_total",
			Help: "Session cache lookups by result",
		},
		[]string{"result"},
	)
	DialogTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialog_transitions_total",
			Help: "Settings dialog state transitions",
		},
		[]string{"from", "to"},
	)
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Store failures by operation",
		},
		[]string{"op"},
	)
)

func InitMetrics() {
	collectors := map[string]prometheus.Collector{
		"ForwardsTotal":       ForwardsTotal,
		"ForwardDuration":     ForwardDuration,
		"RemoteLogins":        RemoteLogins,
		"SessionCacheLookups": SessionCacheLookups,
		"DialogTransitions":   DialogTransitions,
		"StoreErrors":         StoreErrors,
	}
	for name, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msgf("Failed to register %s metric", name)
		}
	}
}
