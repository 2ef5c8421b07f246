package match

import (
	"context"
	"errors"
	"testing"

	"mission-dispatch/internal/models"
	"mission-dispatch/internal/store"
)

func TestListPendingIsSnapshot(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	engine := NewEngine(mem)

	mission, err := mem.CreateMission(ctx, store.CreateMissionParams{
		RequesterID:     "requester-1",
		DurationMinutes: 10,
		EstimatedCost:   7.0,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	pending, err := engine.ListPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending mission, got %d err=%v", len(pending), err)
	}

	// Someone else wins the race after the listing was taken.
	if _, err := engine.Claim(ctx, mission.ID, "scout-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// The stale snapshot entry loses cleanly.
	if _, err := engine.Claim(ctx, pending[0].ID, "scout-b"); !errors.Is(err, models.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed got %v", err)
	}

	// A fresh listing no longer shows it.
	pending, _ = engine.ListPending(ctx)
	if len(pending) != 0 {
		t.Fatalf("claimed mission still listed as pending")
	}
}

func TestClaimUnknownMission(t *testing.T) {
	engine := NewEngine(store.NewMemory())
	if _, err := engine.Claim(context.Background(), "ghost", "scout-a"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}
