package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"mission-dispatch/internal/match"
	"mission-dispatch/internal/models"
	"mission-dispatch/internal/notify"
	"mission-dispatch/internal/pricing"
	"mission-dispatch/internal/store"
	"mission-dispatch/internal/telemetry"
)

// Controller owns the mission state machine. All transitions go through
// it: it validates the event against the current state, delegates the
// conditional write to the store, and emits a notification for every
// committed transition. A failed transition leaves the mission
// unchanged.
type Controller struct {
	store       store.Store
	matcher     *match.Engine
	pricing     pricing.Policy
	publisher   notify.Publisher
	archiver    BillingArchiver
	minDuration int
}

// BillingArchiver persists finalized billing snapshots for settlement.
type BillingArchiver interface {
	Archive(ctx context.Context, snapshot models.BillingSnapshot) error
}

// New wires the controller. publisher may be nil (no fan-out).
func New(st store.Store, matcher *match.Engine, policy pricing.Policy, publisher notify.Publisher, minDurationMinutes int) *Controller {
	if minDurationMinutes < 1 {
		minDurationMinutes = 1
	}
	return &Controller{
		store:       st,
		matcher:     matcher,
		pricing:     policy,
		publisher:   publisher,
		minDuration: minDurationMinutes,
	}
}

// UseArchiver attaches a billing archiver. Archival is best effort and
// happens after the completing transition commits.
func (c *Controller) UseArchiver(a BillingArchiver) {
	c.archiver = a
}

// ChannelID derives the streaming channel name for a mission. It is a
// pure function of the mission id, so repeated session starts can never
// mint two different channels for the same mission.
func ChannelID(missionID string) string {
	return "mission-" + missionID
}

// Create prices and persists a new pending mission.
func (c *Controller) Create(ctx context.Context, requesterID string, loc models.Location, durationMinutes int) (models.Mission, error) {
	if durationMinutes < c.minDuration {
		return models.Mission{}, models.ErrInvalidDuration
	}
	cost, err := c.pricing.Estimate(durationMinutes)
	if err != nil {
		return models.Mission{}, err
	}

	mission, err := c.store.CreateMission(ctx, store.CreateMissionParams{
		RequesterID:     requesterID,
		Location:        loc,
		DurationMinutes: durationMinutes,
		EstimatedCost:   cost,
	})
	if err != nil {
		return models.Mission{}, err
	}

	telemetry.MissionsCreated.Inc()
	telemetry.PendingGauge.Inc()
	_ = c.store.AppendAudit(ctx, mission.ID, "created", fmt.Sprintf("requester=%s duration=%dm cost=%.2f", requesterID, durationMinutes, cost))
	c.emit(ctx, mission)
	return mission, nil
}

// ListPending exposes the matching engine's browse surface.
func (c *Controller) ListPending(ctx context.Context) ([]models.Mission, error) {
	return c.matcher.ListPending(ctx)
}

// Get is a point read for the requester progress feed.
func (c *Controller) Get(ctx context.Context, missionID string) (models.Mission, error) {
	return c.store.GetMission(ctx, missionID)
}

// History returns missions created by a requester or fulfilled by a scout.
func (c *Controller) HistoryByRequester(ctx context.Context, requesterID string) ([]models.Mission, error) {
	return c.store.ListByRequester(ctx, requesterID)
}

func (c *Controller) HistoryByScout(ctx context.Context, scoutID string) ([]models.Mission, error) {
	return c.store.ListByScout(ctx, scoutID)
}

// Claim resolves the accept-one-of-many race via the matching engine
// and announces the winner.
func (c *Controller) Claim(ctx context.Context, missionID, scoutID string) (models.Mission, error) {
	mission, err := c.matcher.Claim(ctx, missionID, scoutID)
	if err != nil {
		return models.Mission{}, err
	}
	telemetry.PendingGauge.Dec()
	c.emit(ctx, mission)
	return mission, nil
}

// StartSession moves accepted -> in_progress for the assigned scout and
// issues the streaming channel. A repeat call by the same scout after
// the first one committed observes the same channel id.
func (c *Controller) StartSession(ctx context.Context, missionID, scoutID string) (models.Mission, error) {
	channelID := ChannelID(missionID)

	mission, err := c.store.StartSession(ctx, missionID, scoutID, channelID)
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) && isOwnLiveSession(mission, scoutID, channelID) {
			return mission, nil
		}
		return models.Mission{}, err
	}

	telemetry.SessionsStarted.Inc()
	telemetry.LiveGauge.Inc()
	_ = c.store.AppendAudit(ctx, mission.ID, "session_started", "channel="+channelID)
	c.emit(ctx, mission)
	return mission, nil
}

// EndSession moves in_progress -> completed for the assigned scout and
// finalizes the billing snapshot. The billed amount is the estimate
// frozen at creation.
func (c *Controller) EndSession(ctx context.Context, missionID, scoutID string) (models.Mission, models.BillingSnapshot, error) {
	mission, err := c.store.CompleteSession(ctx, missionID, scoutID)
	if err != nil {
		return models.Mission{}, models.BillingSnapshot{}, err
	}

	telemetry.SessionsCompleted.Inc()
	telemetry.LiveGauge.Dec()
	snapshot := Snapshot(mission)
	_ = c.store.AppendAudit(ctx, mission.ID, "session_completed", fmt.Sprintf("billed=%.2f actual=%dm", snapshot.BilledAmount, snapshot.ActualMinutes))
	c.archive(ctx, snapshot)
	c.emit(ctx, mission)
	return mission, snapshot, nil
}

// ExpireOverdue completes every live session whose requested duration
// elapsed. Invoked by the watchdog; returns the finalized missions.
func (c *Controller) ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]models.Mission, error) {
	expired, err := c.store.CompleteOverdue(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	for _, mission := range expired {
		telemetry.SessionsExpired.Inc()
		telemetry.LiveGauge.Dec()
		_ = c.store.AppendAudit(ctx, mission.ID, "session_expired", "requested duration elapsed")
		c.archive(ctx, Snapshot(mission))
		c.emit(ctx, mission)
	}
	return expired, nil
}

// Cancel cancels a mission still in pending or accepted. Allowed for
// the requester, or for the assigned scout once accepted. A mission
// that already went live can only be ended, never cancelled.
func (c *Controller) Cancel(ctx context.Context, missionID, actorID string) (models.Mission, error) {
	current, err := c.store.GetMission(ctx, missionID)
	if err != nil {
		return models.Mission{}, err
	}
	if !mayCancel(current, actorID) {
		return models.Mission{}, models.ErrUnauthorized
	}

	wasPending := current.Status == models.StatusPending
	mission, err := c.store.CancelMission(ctx, missionID)
	if err != nil {
		return models.Mission{}, err
	}

	telemetry.MissionsCancelled.Inc()
	if wasPending {
		telemetry.PendingGauge.Dec()
	}
	_ = c.store.AppendAudit(ctx, mission.ID, "cancelled", "by="+actorID)
	c.emit(ctx, mission)
	return mission, nil
}

// Snapshot builds the billing record for a completed mission.
func Snapshot(mission models.Mission) models.BillingSnapshot {
	snap := models.BillingSnapshot{
		MissionID:    mission.ID,
		RequesterID:  mission.RequesterID,
		BilledAmount: mission.EstimatedCost,
	}
	if mission.ScoutID != nil {
		snap.ScoutID = *mission.ScoutID
	}
	if mission.StartedAt != nil && mission.CompletedAt != nil {
		snap.StartedAt = *mission.StartedAt
		snap.CompletedAt = *mission.CompletedAt
		snap.ActualMinutes = int(math.Round(mission.CompletedAt.Sub(*mission.StartedAt).Minutes()))
	}
	return snap
}

func mayCancel(mission models.Mission, actorID string) bool {
	if actorID == mission.RequesterID {
		return true
	}
	return mission.ScoutID != nil && *mission.ScoutID == actorID
}

func isOwnLiveSession(mission models.Mission, scoutID, channelID string) bool {
	return mission.Status == models.StatusInProgress &&
		mission.ScoutID != nil && *mission.ScoutID == scoutID &&
		mission.ChannelID != nil && *mission.ChannelID == channelID
}

func (c *Controller) archive(ctx context.Context, snapshot models.BillingSnapshot) {
	if c.archiver == nil {
		return
	}
	if err := c.archiver.Archive(ctx, snapshot); err != nil {
		_ = c.store.AppendAudit(ctx, snapshot.MissionID, "billing_archive_failed", err.Error())
	}
}

// emit publishes the transition event. Best effort: the transition is
// already committed, so a publish failure is counted, not propagated.
func (c *Controller) emit(ctx context.Context, mission models.Mission) {
	if c.publisher == nil {
		return
	}
	_ = c.publisher.Publish(ctx, models.Event{
		MissionID: mission.ID,
		Status:    mission.Status,
		Version:   mission.Version,
		ChannelID: mission.ChannelID,
		UpdatedAt: mission.UpdatedAt,
	})
}
