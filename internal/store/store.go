package store

import (
	"context"
	"time"

	"mission-dispatch/internal/models"
)

// Store is the durable record of missions. Implementations must make
// every transition a single indivisible conditional update: the status
// predicate and the mutation are applied together, never as a
// read-then-write pair, so concurrent claimers can never both win.
//
// Methods that fail a condition return the current row (when it exists)
// alongside a typed error, so callers can classify the conflict without
// a second round trip.
type Store interface {
	// CreateMission inserts a new pending mission.
	CreateMission(ctx context.Context, p CreateMissionParams) (models.Mission, error)

	// GetMission fetches a mission by id. models.ErrNotFound when absent.
	GetMission(ctx context.Context, id string) (models.Mission, error)

	// ListByStatus returns a snapshot of missions in the given status.
	// The snapshot carries no claim guarantee.
	ListByStatus(ctx context.Context, status string) ([]models.Mission, error)

	// ListByRequester and ListByScout back the history surfaces.
	ListByRequester(ctx context.Context, requesterID string) ([]models.Mission, error)
	ListByScout(ctx context.Context, scoutID string) ([]models.Mission, error)

	// ClaimMission atomically sets status=accepted, scout_id=scoutID
	// where status=pending. Exactly one concurrent caller succeeds;
	// the rest get models.ErrAlreadyClaimed (with the current row) or
	// models.ErrNotFound.
	ClaimMission(ctx context.Context, id, scoutID string) (models.Mission, error)

	// StartSession atomically moves accepted -> in_progress for the
	// assigned scout, recording channelID and started_at. Conflicts
	// classify to models.ErrUnauthorized (wrong scout) or
	// models.ErrInvalidTransition (wrong state, current row attached).
	StartSession(ctx context.Context, id, scoutID, channelID string) (models.Mission, error)

	// CompleteSession atomically moves in_progress -> completed for the
	// assigned scout, recording completed_at.
	CompleteSession(ctx context.Context, id, scoutID string) (models.Mission, error)

	// CompleteOverdue completes every in_progress mission whose
	// requested duration elapsed before now. Returns the missions it
	// transitioned.
	CompleteOverdue(ctx context.Context, now time.Time, limit int) ([]models.Mission, error)

	// CancelMission atomically cancels a mission still in pending or
	// accepted. models.ErrInvalidTransition once in_progress or terminal.
	CancelMission(ctx context.Context, id string) (models.Mission, error)

	// AppendAudit records an audit row. Best effort; failures do not
	// roll back transitions.
	AppendAudit(ctx context.Context, missionID, event, detail string) error
}

// CreateMissionParams collects inputs required to insert a mission.
// EstimatedCost is computed by the caller exactly once, via the pricing
// policy, and frozen here.
type CreateMissionParams struct {
	RequesterID     string
	Location        models.Location
	DurationMinutes int
	EstimatedCost   float64
}
