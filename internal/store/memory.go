package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mission-dispatch/internal/models"
)

// Memory is a mutex-guarded in-process Store. The mutex makes every
// conditional update a compare-and-swap over the keyed mission table,
// giving the same at-most-one-claim guarantee as the Postgres UPDATE
// guard. Used by tests and local development (STORE_DRIVER=memory).
type Memory struct {
	mu       sync.Mutex
	missions map[string]models.Mission
	audit    []models.AuditLog
}

func NewMemory() *Memory {
	return &Memory{missions: make(map[string]models.Mission)}
}

func (m *Memory) CreateMission(_ context.Context, p CreateMissionParams) (models.Mission, error) {
	if p.DurationMinutes <= 0 {
		return models.Mission{}, models.ErrInvalidDuration
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	mission := models.Mission{
		ID:              uuid.New().String(),
		RequesterID:     p.RequesterID,
		Location:        p.Location,
		DurationMinutes: p.DurationMinutes,
		Status:          models.StatusPending,
		EstimatedCost:   p.EstimatedCost,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.missions[mission.ID] = mission
	return mission, nil
}

func (m *Memory) GetMission(_ context.Context, id string) (models.Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mission, ok := m.missions[id]
	if !ok {
		return models.Mission{}, models.ErrNotFound
	}
	return mission, nil
}

func (m *Memory) ListByStatus(_ context.Context, status string) ([]models.Mission, error) {
	return m.snapshot(func(ms models.Mission) bool { return ms.Status == status }), nil
}

func (m *Memory) ListByRequester(_ context.Context, requesterID string) ([]models.Mission, error) {
	return m.snapshot(func(ms models.Mission) bool { return ms.RequesterID == requesterID }), nil
}

func (m *Memory) ListByScout(_ context.Context, scoutID string) ([]models.Mission, error) {
	return m.snapshot(func(ms models.Mission) bool {
		return ms.ScoutID != nil && *ms.ScoutID == scoutID
	}), nil
}

func (m *Memory) snapshot(keep func(models.Mission) bool) []models.Mission {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Mission
	for _, mission := range m.missions {
		if keep(mission) {
			out = append(out, mission)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) ClaimMission(_ context.Context, id, scoutID string) (models.Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mission, ok := m.missions[id]
	if !ok {
		return models.Mission{}, models.ErrNotFound
	}
	if mission.Status != models.StatusPending {
		if mission.Status == models.StatusCancelled {
			return models.Mission{}, models.ErrNotFound
		}
		return mission, models.ErrAlreadyClaimed
	}

	mission.Status = models.StatusAccepted
	mission.ScoutID = &scoutID
	m.bump(&mission)
	return mission, nil
}

func (m *Memory) StartSession(_ context.Context, id, scoutID, channelID string) (models.Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mission, ok := m.missions[id]
	if !ok {
		return models.Mission{}, models.ErrNotFound
	}
	if mission.Status == models.StatusAccepted && (mission.ScoutID == nil || *mission.ScoutID != scoutID) {
		return mission, models.ErrUnauthorized
	}
	if mission.Status != models.StatusAccepted {
		return mission, models.ErrInvalidTransition
	}

	now := time.Now().UTC()
	mission.Status = models.StatusInProgress
	mission.ChannelID = &channelID
	mission.StartedAt = &now
	m.bump(&mission)
	return mission, nil
}

func (m *Memory) CompleteSession(_ context.Context, id, scoutID string) (models.Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mission, ok := m.missions[id]
	if !ok {
		return models.Mission{}, models.ErrNotFound
	}
	if mission.Status == models.StatusInProgress && (mission.ScoutID == nil || *mission.ScoutID != scoutID) {
		return mission, models.ErrUnauthorized
	}
	if mission.Status != models.StatusInProgress {
		return mission, models.ErrInvalidTransition
	}

	now := time.Now().UTC()
	mission.Status = models.StatusCompleted
	mission.CompletedAt = &now
	m.bump(&mission)
	return mission, nil
}

func (m *Memory) CompleteOverdue(_ context.Context, now time.Time, limit int) ([]models.Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Mission
	for _, mission := range m.missions {
		if len(out) >= limit {
			break
		}
		if mission.Status != models.StatusInProgress || mission.StartedAt == nil {
			continue
		}
		if mission.Deadline().After(now) {
			continue
		}
		done := now.UTC()
		mission.Status = models.StatusCompleted
		mission.CompletedAt = &done
		m.bumpAt(&mission, done)
		out = append(out, mission)
	}
	return out, nil
}

func (m *Memory) CancelMission(_ context.Context, id string) (models.Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mission, ok := m.missions[id]
	if !ok {
		return models.Mission{}, models.ErrNotFound
	}
	if mission.Status != models.StatusPending && mission.Status != models.StatusAccepted {
		return mission, models.ErrInvalidTransition
	}

	mission.Status = models.StatusCancelled
	m.bump(&mission)
	return mission, nil
}

func (m *Memory) AppendAudit(_ context.Context, missionID, event, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit = append(m.audit, models.AuditLog{
		MissionID: missionID,
		Event:     event,
		Detail:    detail,
		Recorded:  time.Now().UTC(),
	})
	return nil
}

// bump commits a transition under the lock: version strictly increases,
// updated_at refreshes, and the map entry is replaced in one step.
func (m *Memory) bump(mission *models.Mission) {
	m.bumpAt(mission, time.Now().UTC())
}

func (m *Memory) bumpAt(mission *models.Mission, at time.Time) {
	mission.Version++
	mission.UpdatedAt = at
	m.missions[mission.ID] = *mission
}
