package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/club-ranklist/internal/config"
	"github.com/club-ranklist/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(150) NOT NULL UNIQUE,
		handle VARCHAR(150) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		start_time TIMESTAMP NOT NULL,
		weight DOUBLE PRECISION NOT NULL DEFAULT 1 CHECK (weight >= 0),
		open_for_attendance BOOLEAN NOT NULL DEFAULT FALSE,
		strict_attendance BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS ranklists (
		id BIGSERIAL PRIMARY KEY,
		keyword VARCHAR(64) NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		weight_of_upsolve DOUBLE PRECISION NOT NULL DEFAULT 0.25,
		consider_strict_attendance BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS ranklist_events (
		ranklist_id BIGINT NOT NULL REFERENCES ranklists(id) ON DELETE CASCADE,
		event_id BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		weight DOUBLE PRECISION CHECK (weight IS NULL OR weight >= 0),
		PRIMARY KEY (ranklist_id, event_id)
	)`,
	`CREATE TABLE IF NOT EXISTS solve_stats (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		event_id BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		solve_count INT NOT NULL DEFAULT 0 CHECK (solve_count >= 0),
		upsolve_count INT NOT NULL DEFAULT 0 CHECK (upsolve_count >= 0),
		participation BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, event_id)
	)`,
	`CREATE TABLE IF NOT EXISTS attendances (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		event_id BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, event_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ranklist_memberships (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		ranklist_id BIGINT NOT NULL REFERENCES ranklists(id) ON DELETE CASCADE,
		score DOUBLE PRECISION NOT NULL DEFAULT 0,
		joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, ranklist_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ranklist_events_event ON ranklist_events(event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_solve_stats_event ON solve_stats(event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_attendances_event ON attendances(event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_memberships_score ON ranklist_memberships(ranklist_id, score DESC, id)`,
}

const rankListColumns = `id, keyword, description, weight_of_upsolve, consider_strict_attendance, is_active, created_at`

func scanRankList(row pgx.Row) (*domain.RankList, error) {
	var rl domain.RankList
	err := row.Scan(
		&rl.ID,
		&rl.Keyword,
		&rl.Description,
		&rl.WeightOfUpsolve,
		&rl.ConsiderStrictAttendance,
		&rl.IsActive,
		&rl.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rl, nil
}

// GetRankList retrieves a ranklist by ID
func (r *Repository) GetRankList(ctx context.Context, rankListID int64) (*domain.RankList, error) {
	query := `SELECT ` + rankListColumns + ` FROM ranklists WHERE id = $1`
	rl, err := scanRankList(r.pool.QueryRow(ctx, query, rankListID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRankListNotFound
		}
		return nil, fmt.Errorf("getting ranklist: %w", err)
	}
	return rl, nil
}

// ListRankLists retrieves all ranklists
func (r *Repository) ListRankLists(ctx context.Context) ([]domain.RankList, error) {
	query := `SELECT ` + rankListColumns + ` FROM ranklists ORDER BY id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing ranklists: %w", err)
	}
	defer rows.Close()

	var rankLists []domain.RankList
	for rows.Next() {
		rl, err := scanRankList(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ranklist: %w", err)
		}
		rankLists = append(rankLists, *rl)
	}
	return rankLists, rows.Err()
}

// GetRankListEvents retrieves the events of a ranklist ordered by start time
func (r *Repository) GetRankListEvents(ctx context.Context, rankListID int64) ([]domain.RankListEvent, error) {
	query := `
		SELECT e.id, e.title, e.start_time, e.weight, e.open_for_attendance, e.strict_attendance, re.weight
		FROM ranklist_events re
		JOIN events e ON e.id = re.event_id
		WHERE re.ranklist_id = $1
		ORDER BY e.start_time, e.id
	`
	rows, err := r.pool.Query(ctx, query, rankListID)
	if err != nil {
		return nil, fmt.Errorf("getting ranklist events: %w", err)
	}
	defer rows.Close()

	var events []domain.RankListEvent
	for rows.Next() {
		var ev domain.RankListEvent
		err := rows.Scan(
			&ev.ID,
			&ev.Title,
			&ev.StartTime,
			&ev.Weight,
			&ev.OpenForAttendance,
			&ev.StrictAttendance,
			&ev.WeightOverride,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning ranklist event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetMembers retrieves ranklist members by descending stored score, ties in join order
func (r *Repository) GetMembers(ctx context.Context, rankListID int64) ([]domain.Member, error) {
	query := `
		SELECT u.id, u.username, u.handle, m.score
		FROM ranklist_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.ranklist_id = $1
		ORDER BY m.score DESC, m.id
	`
	rows, err := r.pool.Query(ctx, query, rankListID)
	if err != nil {
		return nil, fmt.Errorf("getting members: %w", err)
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.User.ID, &m.User.Username, &m.User.Handle, &m.Score); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetSolveStats retrieves solve stats restricted to the given users and events
func (r *Repository) GetSolveStats(ctx context.Context, userIDs, eventIDs []int64) ([]domain.SolveStat, error) {
	if len(userIDs) == 0 || len(eventIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT user_id, event_id, solve_count, upsolve_count, participation
		FROM solve_stats
		WHERE user_id = ANY($1) AND event_id = ANY($2)
	`
	rows, err := r.pool.Query(ctx, query, userIDs, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("getting solve stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.SolveStat
	for rows.Next() {
		var s domain.SolveStat
		if err := rows.Scan(&s.UserID, &s.EventID, &s.SolveCount, &s.UpsolveCount, &s.Participation); err != nil {
			return nil, fmt.Errorf("scanning solve stat: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// GetAttendances retrieves attendance rows restricted to the given users and events
func (r *Repository) GetAttendances(ctx context.Context, userIDs, eventIDs []int64) ([]domain.Attendance, error) {
	if len(userIDs) == 0 || len(eventIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT user_id, event_id
		FROM attendances
		WHERE user_id = ANY($1) AND event_id = ANY($2)
	`
	rows, err := r.pool.Query(ctx, query, userIDs, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("getting attendances: %w", err)
	}
	defer rows.Close()

	var attendances []domain.Attendance
	for rows.Next() {
		var a domain.Attendance
		if err := rows.Scan(&a.UserID, &a.EventID); err != nil {
			return nil, fmt.Errorf("scanning attendance: %w", err)
		}
		attendances = append(attendances, a)
	}
	return attendances, rows.Err()
}

// UserExists checks if a user exists
func (r *Repository) UserExists(ctx context.Context, userID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking user existence: %w", err)
	}
	return exists, nil
}

// AddMember inserts a membership with a zero score. It reports false when the
// membership already existed; the unique (user_id, ranklist_id) constraint makes this race-free.
func (r *Repository) AddMember(ctx context.Context, userID, rankListID int64) (bool, error) {
	query := `
		INSERT INTO ranklist_memberships (user_id, ranklist_id, score)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id, ranklist_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, userID, rankListID)
	if err != nil {
		return false, fmt.Errorf("adding member: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// RemoveMember deletes a membership. It reports false when there was none.
func (r *Repository) RemoveMember(ctx context.Context, userID, rankListID int64) (bool, error) {
	query := `DELETE FROM ranklist_memberships WHERE user_id = $1 AND ranklist_id = $2`
	result, err := r.pool.Exec(ctx, query, userID, rankListID)
	if err != nil {
		return false, fmt.Errorf("removing member: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// UpdateMemberScores writes recomputed scores for existing members of a ranklist
func (r *Repository) UpdateMemberScores(ctx context.Context, rankListID int64, scores map[int64]float64) error {
	if len(scores) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `UPDATE ranklist_memberships SET score = $3 WHERE ranklist_id = $1 AND user_id = $2`
	for userID, score := range scores {
		batch.Queue(query, rankListID, userID, score)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range scores {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch updating scores: %w", err)
		}
	}
	return nil
}

// UpsertSolveStats inserts or replaces solve stats in one batch
func (r *Repository) UpsertSolveStats(ctx context.Context, stats []domain.SolveStat) error {
	if len(stats) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO solve_stats (user_id, event_id, solve_count, upsolve_count, participation, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, event_id)
		DO UPDATE SET solve_count = $3, upsolve_count = $4, participation = $5, updated_at = CURRENT_TIMESTAMP
	`
	for _, s := range stats {
		batch.Queue(query, s.UserID, s.EventID, s.SolveCount, s.UpsolveCount, s.Participation)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range stats {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting solve stats: %w", err)
		}
	}
	return nil
}

// UpsertAttendances records attendance rows, ignoring ones that already exist
func (r *Repository) UpsertAttendances(ctx context.Context, attendances []domain.Attendance) error {
	if len(attendances) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO attendances (user_id, event_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, event_id) DO NOTHING
	`
	for _, a := range attendances {
		batch.Queue(query, a.UserID, a.EventID)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range attendances {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting attendances: %w", err)
		}
	}
	return nil
}

// RankListsForEvents returns the ids of ranklists that include any of the events
func (r *Repository) RankListsForEvents(ctx context.Context, eventIDs []int64) ([]int64, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	query := `SELECT DISTINCT ranklist_id FROM ranklist_events WHERE event_id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("getting ranklists for events: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning ranklist id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExistingUserIDs returns which of the given user ids exist
func (r *Repository) ExistingUserIDs(ctx context.Context, userIDs []int64) (map[int64]bool, error) {
	return r.existingIDs(ctx, `SELECT id FROM users WHERE id = ANY($1)`, userIDs)
}

// ExistingEventIDs returns which of the given event ids exist
func (r *Repository) ExistingEventIDs(ctx context.Context, eventIDs []int64) (map[int64]bool, error) {
	return r.existingIDs(ctx, `SELECT id FROM events WHERE id = ANY($1)`, eventIDs)
}

func (r *Repository) existingIDs(ctx context.Context, query string, ids []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("looking up ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		found[id] = true
	}
	return found, rows.Err()
}
