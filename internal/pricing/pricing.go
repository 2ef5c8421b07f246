package pricing

import (
	"mission-dispatch/internal/models"
)

// Policy computes the estimated cost of a mission from its requested
// duration. It is evaluated exactly once, at creation; the result is
// frozen into the mission's estimated_cost and never recomputed.
type Policy struct {
	baseFee       float64
	perMinuteRate float64
}

// NewPolicy builds a policy from the configured fee constants.
func NewPolicy(baseFee, perMinuteRate float64) Policy {
	return Policy{baseFee: baseFee, perMinuteRate: perMinuteRate}
}

// Estimate returns base_fee + minutes * per_minute_rate. Deterministic,
// no side effects. Non-positive durations are rejected.
func (p Policy) Estimate(durationMinutes int) (float64, error) {
	if durationMinutes <= 0 {
		return 0, models.ErrInvalidDuration
	}
	return p.baseFee + float64(durationMinutes)*p.perMinuteRate, nil
}
