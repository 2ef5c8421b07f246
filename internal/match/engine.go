package match

import (
	"context"
	"errors"

	"mission-dispatch/internal/models"
	"mission-dispatch/internal/store"
	"mission-dispatch/internal/telemetry"
)

// Engine resolves the race where multiple scouts try to claim the same
// pending mission. The winner is decided entirely by the store's
// conditional update; this layer surfaces the outcome and counts it.
type Engine struct {
	store store.Store
}

func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// ListPending returns a snapshot of currently pending missions. The
// snapshot carries no reservation: any mission in it may already be
// claimed by the time a caller acts on it.
func (e *Engine) ListPending(ctx context.Context) ([]models.Mission, error) {
	return e.store.ListByStatus(ctx, models.StatusPending)
}

// Claim attempts the atomic pending -> accepted transition for scoutID.
// Exactly one concurrent caller per mission succeeds. Losing is a
// normal outcome (models.ErrAlreadyClaimed), not a failure.
func (e *Engine) Claim(ctx context.Context, missionID, scoutID string) (models.Mission, error) {
	mission, err := e.store.ClaimMission(ctx, missionID, scoutID)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyClaimed) {
			telemetry.ClaimsLost.Inc()
		}
		return models.Mission{}, err
	}
	telemetry.ClaimsWon.Inc()
	_ = e.store.AppendAudit(ctx, mission.ID, "claimed", "scout="+scoutID)
	return mission, nil
}
