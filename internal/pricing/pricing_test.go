package pricing

import (
	"errors"
	"testing"

	"mission-dispatch/internal/models"
)

func TestEstimate(t *testing.T) {
	policy := NewPolicy(2.0, 0.5)

	cost, err := policy.Estimate(10)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if cost != 7.0 {
		t.Fatalf("expected 7.0 got %v", cost)
	}

	// Same input, same output.
	again, _ := policy.Estimate(10)
	if again != cost {
		t.Fatalf("estimate not deterministic: %v vs %v", cost, again)
	}
}

func TestEstimateRejectsNonPositive(t *testing.T) {
	policy := NewPolicy(2.0, 0.5)
	for _, d := range []int{0, -1, -60} {
		if _, err := policy.Estimate(d); !errors.Is(err, models.ErrInvalidDuration) {
			t.Fatalf("duration %d: expected ErrInvalidDuration got %v", d, err)
		}
	}
}
