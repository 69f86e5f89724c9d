package postgres

import (
	"context"
	"fmt"

	"github.com/club-ranklist/internal/domain"
)

// The catalog writers below are used by the fixture loader. Ids are taken from the
// caller so fixtures stay stable across reloads; SyncSequences must run afterwards.

// UpsertUser inserts or updates a user by id
func (r *Repository) UpsertUser(ctx context.Context, u domain.User) error {
	query := `
		INSERT INTO users (id, username, handle)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET username = $2, handle = $3
	`
	if _, err := r.pool.Exec(ctx, query, u.ID, u.Username, u.Handle); err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// UpsertEvent inserts or updates an event by id
func (r *Repository) UpsertEvent(ctx context.Context, e domain.Event) error {
	query := `
		INSERT INTO events (id, title, start_time, weight, open_for_attendance, strict_attendance)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = $2,
			start_time = $3,
			weight = $4,
			open_for_attendance = $5,
			strict_attendance = $6
	`
	_, err := r.pool.Exec(ctx, query,
		e.ID,
		e.Title,
		e.StartTime,
		e.Weight,
		e.OpenForAttendance,
		e.StrictAttendance,
	)
	if err != nil {
		return fmt.Errorf("upserting event: %w", err)
	}
	return nil
}

// UpsertRankList inserts or updates a ranklist by id
func (r *Repository) UpsertRankList(ctx context.Context, rl domain.RankList) error {
	query := `
		INSERT INTO ranklists (id, keyword, description, weight_of_upsolve, consider_strict_attendance, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			keyword = $2,
			description = $3,
			weight_of_upsolve = $4,
			consider_strict_attendance = $5,
			is_active = $6
	`
	_, err := r.pool.Exec(ctx, query,
		rl.ID,
		rl.Keyword,
		rl.Description,
		rl.WeightOfUpsolve,
		rl.ConsiderStrictAttendance,
		rl.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upserting ranklist: %w", err)
	}
	return nil
}

// AttachEvent links an event to a ranklist with an optional weight override
func (r *Repository) AttachEvent(ctx context.Context, rankListID, eventID int64, weight *float64) error {
	query := `
		INSERT INTO ranklist_events (ranklist_id, event_id, weight)
		VALUES ($1, $2, $3)
		ON CONFLICT (ranklist_id, event_id) DO UPDATE SET weight = $3
	`
	if _, err := r.pool.Exec(ctx, query, rankListID, eventID, weight); err != nil {
		return fmt.Errorf("attaching event: %w", err)
	}
	return nil
}

// SyncSequences moves id sequences past explicitly inserted ids
func (r *Repository) SyncSequences(ctx context.Context) error {
	for _, table := range []string{"users", "events", "ranklists"} {
		query := fmt.Sprintf(
			`SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE(MAX(id), 0) + 1, false) FROM %s`,
			table, table,
		)
		if _, err := r.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("syncing %s sequence: %w", table, err)
		}
	}
	return nil
}
