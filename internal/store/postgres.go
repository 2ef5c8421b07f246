package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"mission-dispatch/internal/models"
)

// Postgres wraps pgxpool for mission persistence. Every transition is a
// single UPDATE with the expected status in the WHERE clause, so the
// check-and-mutate is one indivisible statement.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const missionColumns = `id, requester_id, latitude, longitude, requested_duration_minutes,
	status, scout_id, channel_id, estimated_cost, version, started_at, completed_at,
	created_at, updated_at`

func (s *Postgres) CreateMission(ctx context.Context, p CreateMissionParams) (models.Mission, error) {
	if p.DurationMinutes <= 0 {
		return models.Mission{}, models.ErrInvalidDuration
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO missions (id, requester_id, latitude, longitude, requested_duration_minutes,
			status, estimated_cost, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $8)
	`, id, p.RequesterID, p.Location.Latitude, p.Location.Longitude, p.DurationMinutes,
		models.StatusPending, p.EstimatedCost, now)
	if err != nil {
		return models.Mission{}, fmt.Errorf("insert mission: %w", err)
	}

	return models.Mission{
		ID:              id,
		RequesterID:     p.RequesterID,
		Location:        p.Location,
		DurationMinutes: p.DurationMinutes,
		Status:          models.StatusPending,
		EstimatedCost:   p.EstimatedCost,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (s *Postgres) GetMission(ctx context.Context, id string) (models.Mission, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = $1`, id)
	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Mission{}, models.ErrNotFound
	}
	if err != nil {
		return models.Mission{}, fmt.Errorf("get mission: %w", err)
	}
	return m, nil
}

func (s *Postgres) ListByStatus(ctx context.Context, status string) ([]models.Mission, error) {
	return s.list(ctx, `SELECT `+missionColumns+` FROM missions WHERE status = $1 ORDER BY created_at`, status)
}

func (s *Postgres) ListByRequester(ctx context.Context, requesterID string) ([]models.Mission, error) {
	return s.list(ctx, `SELECT `+missionColumns+` FROM missions WHERE requester_id = $1 ORDER BY created_at DESC`, requesterID)
}

func (s *Postgres) ListByScout(ctx context.Context, scoutID string) ([]models.Mission, error) {
	return s.list(ctx, `SELECT `+missionColumns+` FROM missions WHERE scout_id = $1 ORDER BY created_at DESC`, scoutID)
}

func (s *Postgres) list(ctx context.Context, query string, arg any) ([]models.Mission, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var out []models.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClaimMission is the crux of the claim protocol: the status predicate
// and the assignment are one UPDATE, so of N concurrent claimers the
// row visibly transitions exactly once.
func (s *Postgres) ClaimMission(ctx context.Context, id, scoutID string) (models.Mission, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE missions
		SET status = $3, scout_id = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING `+missionColumns,
		id, scoutID, models.StatusAccepted, models.StatusPending)

	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, gerr := s.GetMission(ctx, id)
		if gerr != nil {
			return models.Mission{}, models.ErrNotFound
		}
		if current.Status == models.StatusCancelled {
			// Vanished from the pending pool without ever being won.
			return models.Mission{}, models.ErrNotFound
		}
		return current, models.ErrAlreadyClaimed
	}
	if err != nil {
		return models.Mission{}, fmt.Errorf("claim mission: %w", err)
	}
	return m, nil
}

func (s *Postgres) StartSession(ctx context.Context, id, scoutID, channelID string) (models.Mission, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE missions
		SET status = $4, channel_id = $3, started_at = NOW(), version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $5 AND scout_id = $2
		RETURNING `+missionColumns,
		id, scoutID, channelID, models.StatusInProgress, models.StatusAccepted)

	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.classifyConflict(ctx, id, scoutID, models.StatusAccepted)
	}
	if err != nil {
		return models.Mission{}, fmt.Errorf("start session: %w", err)
	}
	return m, nil
}

func (s *Postgres) CompleteSession(ctx context.Context, id, scoutID string) (models.Mission, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE missions
		SET status = $3, completed_at = NOW(), version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $4 AND scout_id = $2
		RETURNING `+missionColumns,
		id, scoutID, models.StatusCompleted, models.StatusInProgress)

	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.classifyConflict(ctx, id, scoutID, models.StatusInProgress)
	}
	if err != nil {
		return models.Mission{}, fmt.Errorf("complete session: %w", err)
	}
	return m, nil
}

func (s *Postgres) CompleteOverdue(ctx context.Context, now time.Time, limit int) ([]models.Mission, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE missions
		SET status = $1, completed_at = $2, version = version + 1, updated_at = $2
		WHERE id IN (
			SELECT id FROM missions
			WHERE status = $3
			  AND started_at + requested_duration_minutes * INTERVAL '1 minute' <= $2
			ORDER BY started_at
			LIMIT $4
		)
		RETURNING `+missionColumns,
		models.StatusCompleted, now.UTC(), models.StatusInProgress, limit)
	if err != nil {
		return nil, fmt.Errorf("complete overdue: %w", err)
	}
	defer rows.Close()

	var out []models.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Postgres) CancelMission(ctx context.Context, id string) (models.Mission, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE missions
		SET status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
		RETURNING `+missionColumns,
		id, models.StatusCancelled, models.StatusPending, models.StatusAccepted)

	m, err := scanMission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, gerr := s.GetMission(ctx, id)
		if gerr != nil {
			return models.Mission{}, models.ErrNotFound
		}
		return current, models.ErrInvalidTransition
	}
	if err != nil {
		return models.Mission{}, fmt.Errorf("cancel mission: %w", err)
	}
	return m, nil
}

func (s *Postgres) AppendAudit(ctx context.Context, missionID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mission_audit (mission_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, missionID, event, detail)
	return err
}

// classifyConflict distinguishes why a guarded scout transition matched
// no row: missing mission, wrong scout, or wrong state. The current row
// is returned with the error so callers can act on it.
func (s *Postgres) classifyConflict(ctx context.Context, id, scoutID, wantStatus string) (models.Mission, error) {
	current, err := s.GetMission(ctx, id)
	if err != nil {
		return models.Mission{}, models.ErrNotFound
	}
	if current.Status == wantStatus && (current.ScoutID == nil || *current.ScoutID != scoutID) {
		return current, models.ErrUnauthorized
	}
	return current, models.ErrInvalidTransition
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(row rowScanner) (models.Mission, error) {
	var m models.Mission
	var scout, channel pgtype.Text
	var started, completed pgtype.Timestamptz

	err := row.Scan(&m.ID, &m.RequesterID, &m.Location.Latitude, &m.Location.Longitude,
		&m.DurationMinutes, &m.Status, &scout, &channel, &m.EstimatedCost, &m.Version,
		&started, &completed, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return models.Mission{}, err
	}

	m.ScoutID = textPtr(scout)
	m.ChannelID = textPtr(channel)
	m.StartedAt = timePtr(started)
	m.CompletedAt = timePtr(completed)
	return m, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
