package models

import (
	"time"
)

// Mission lifecycle states persisted in Postgres.
const (
	StatusPending    = "pending"
	StatusAccepted   = "accepted"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// statusRank orders statuses for the monotonic-lifecycle check used by
// event consumers. Cancelled and completed are both terminal.
var statusRank = map[string]int{
	StatusPending:    0,
	StatusAccepted:   1,
	StatusInProgress: 2,
	StatusCompleted:  3,
	StatusCancelled:  3,
}

// StatusRank returns the partial-order rank of a status, -1 if unknown.
func StatusRank(status string) int {
	if r, ok := statusRank[status]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether a mission can never transition again.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// Location is a single geographic point. Immutable after creation.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Mission represents an observation request persisted in Postgres.
// ScoutID and ChannelID stay nil until a claim / session start commits.
type Mission struct {
	ID              string     `json:"id"`
	RequesterID     string     `json:"requester_id"`
	Location        Location   `json:"location"`
	DurationMinutes int        `json:"requested_duration_minutes"`
	Status          string     `json:"status"`
	ScoutID         *string    `json:"scout_id,omitempty"`
	ChannelID       *string    `json:"channel_id,omitempty"`
	EstimatedCost   float64    `json:"estimated_cost"`
	Version         int64      `json:"version"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Deadline returns when an in-progress session runs out of its
// requested duration. Zero time when the session never started.
func (m Mission) Deadline() time.Time {
	if m.StartedAt == nil {
		return time.Time{}
	}
	return m.StartedAt.Add(time.Duration(m.DurationMinutes) * time.Minute)
}

// Event is published on every committed transition. Version increases
// strictly per mission; consumers drop anything out of order.
type Event struct {
	MissionID string    `json:"mission_id"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
	ChannelID *string   `json:"channel_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BillingSnapshot freezes the amounts for a finished session. Billed
// amount is the estimate frozen at creation; ActualMinutes records how
// long the stream actually ran.
type BillingSnapshot struct {
	MissionID     string    `json:"mission_id"`
	RequesterID   string    `json:"requester_id"`
	ScoutID       string    `json:"scout_id"`
	BilledAmount  float64   `json:"billed_amount"`
	ActualMinutes int       `json:"actual_minutes"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// AuditLog is a simple audit event row.
type AuditLog struct {
	MissionID string    `json:"mission_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
	Recorded  time.Time `json:"recorded_at"`
}
