package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mission-dispatch/internal/models"
)

func newPendingMission(t *testing.T, m *Memory) models.Mission {
	t.Helper()
	mission, err := m.CreateMission(context.Background(), CreateMissionParams{
		RequesterID:     "requester-1",
		Location:        models.Location{Latitude: 37.78825, Longitude: -122.4324},
		DurationMinutes: 10,
		EstimatedCost:   7.0,
	})
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	return mission
}

func TestClaimExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mission := newPendingMission(t, mem)

	const scouts = 64
	var wg sync.WaitGroup
	errs := make([]error, scouts)
	for i := 0; i < scouts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mem.ClaimMission(ctx, mission.ID, fmt.Sprintf("scout-%d", i))
		}(i)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, models.ErrAlreadyClaimed):
			losses++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if losses != scouts-1 {
		t.Fatalf("expected %d losers, got %d", scouts-1, losses)
	}

	got, err := mem.GetMission(ctx, mission.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusAccepted || got.ScoutID == nil {
		t.Fatalf("mission not accepted after race: status=%s scout=%v", got.Status, got.ScoutID)
	}
}

func TestClaimMissingMission(t *testing.T) {
	mem := NewMemory()
	if _, err := mem.ClaimMission(context.Background(), "no-such-id", "scout-a"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestClaimCancelledMissionIsNotFound(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mission := newPendingMission(t, mem)

	if _, err := mem.CancelMission(ctx, mission.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := mem.ClaimMission(ctx, mission.ID, "scout-a"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cancelled mission got %v", err)
	}
}

func TestVersionStrictlyIncreases(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mission := newPendingMission(t, mem)
	last := mission.Version

	claimed, err := mem.ClaimMission(ctx, mission.ID, "scout-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Version <= last {
		t.Fatalf("version did not increase on claim: %d -> %d", last, claimed.Version)
	}
	last = claimed.Version

	started, err := mem.StartSession(ctx, mission.ID, "scout-a", "mission-"+mission.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Version <= last {
		t.Fatalf("version did not increase on start: %d -> %d", last, started.Version)
	}
	last = started.Version

	done, err := mem.CompleteSession(ctx, mission.ID, "scout-a")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Version <= last {
		t.Fatalf("version did not increase on complete: %d -> %d", last, done.Version)
	}
}

func TestGuardedTransitionsLeaveMissionUnchanged(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mission := newPendingMission(t, mem)

	// start before claim
	if _, err := mem.StartSession(ctx, mission.ID, "scout-a", "ch"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition got %v", err)
	}
	// complete before start
	if _, err := mem.CompleteSession(ctx, mission.ID, "scout-a"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition got %v", err)
	}

	got, _ := mem.GetMission(ctx, mission.ID)
	if got.Status != models.StatusPending || got.Version != mission.Version {
		t.Fatalf("failed transition mutated mission: %+v", got)
	}
}

func TestStartSessionWrongScout(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mission := newPendingMission(t, mem)

	if _, err := mem.ClaimMission(ctx, mission.ID, "scout-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := mem.StartSession(ctx, mission.ID, "scout-b", "ch"); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized got %v", err)
	}
}

func TestCancelOnlyFromPendingOrAccepted(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mission := newPendingMission(t, mem)

	if _, err := mem.ClaimMission(ctx, mission.ID, "scout-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := mem.StartSession(ctx, mission.ID, "scout-a", "ch"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := mem.CancelMission(ctx, mission.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("cancel of live session should fail, got %v", err)
	}
}

func TestCompleteOverdue(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mission := newPendingMission(t, mem)

	if _, err := mem.ClaimMission(ctx, mission.ID, "scout-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	started, err := mem.StartSession(ctx, mission.ID, "scout-a", "ch")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Just before the deadline nothing happens.
	early, err := mem.CompleteOverdue(ctx, started.StartedAt.Add(9*time.Minute), 10)
	if err != nil || len(early) != 0 {
		t.Fatalf("expected no overdue missions, got %d err=%v", len(early), err)
	}

	done, err := mem.CompleteOverdue(ctx, started.StartedAt.Add(11*time.Minute), 10)
	if err != nil {
		t.Fatalf("complete overdue: %v", err)
	}
	if len(done) != 1 || done[0].Status != models.StatusCompleted {
		t.Fatalf("expected one completed mission, got %+v", done)
	}
	if done[0].ChannelID == nil {
		t.Fatalf("channel id lost on completion")
	}
}
