package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	MissionsCreated   = prometheus.NewCounter(prometheus.CounterOpts{Name: "missions_created_total", Help: "Missions created"})
	MissionsCancelled = prometheus.NewCounter(prometheus.CounterOpts{Name: "missions_cancelled_total", Help: "Missions cancelled before going live"})
	ClaimsWon         = prometheus.NewCounter(prometheus.CounterOpts{Name: "missions_claims_won_total", Help: "Claim attempts that won the race"})
	ClaimsLost        = prometheus.NewCounter(prometheus.CounterOpts{Name: "missions_claims_lost_total", Help: "Claim attempts that lost the race"})
	SessionsStarted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "missions_sessions_started_total", Help: "Streaming sessions started"})
	SessionsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "missions_sessions_completed_total", Help: "Streaming sessions completed"})
	SessionsExpired   = prometheus.NewCounter(prometheus.CounterOpts{Name: "missions_sessions_expired_total", Help: "Sessions auto-completed after the requested duration"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "missions_rate_limit_rejects_total", Help: "Mission creations rejected by rate limiter"})
	EventPublishFails = prometheus.NewCounter(prometheus.CounterOpts{Name: "missions_event_publish_failures_total", Help: "Transition events that failed to publish"})
	PendingGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "missions_pending", Help: "Missions currently awaiting a scout"})
	LiveGauge         = prometheus.NewGauge(prometheus.GaugeOpts{Name: "missions_live", Help: "Sessions currently in progress"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			MissionsCreated,
			MissionsCancelled,
			ClaimsWon,
			ClaimsLost,
			SessionsStarted,
			SessionsCompleted,
			SessionsExpired,
			RateLimitRejects,
			EventPublishFails,
			PendingGauge,
			LiveGauge,
		)
	})
	return promhttp.Handler()
}
