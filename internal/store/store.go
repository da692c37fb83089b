package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/luojunlin1223/VibeVtuber/internal/types"
)

// ErrNotFound is returned when a named profile or session does not exist.
var ErrNotFound = errors.New("not found")

// Store manages the PostgreSQL connection for profiles and session summaries.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS stream_profiles (
			name TEXT PRIMARY KEY,
			host TEXT NOT NULL,
			port INT NOT NULL CHECK (port BETWEEN 1 AND 65535),
			alpha DOUBLE PRECISION NOT NULL CHECK (alpha >= 0 AND alpha <= 1),
			camera TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS stream_sessions (
			id UUID PRIMARY KEY,
			profile TEXT REFERENCES stream_profiles(name) ON DELETE SET NULL,
			destination TEXT NOT NULL,
			alpha DOUBLE PRECISION NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ,
			frames BIGINT NOT NULL DEFAULT 0,
			detections BIGINT NOT NULL DEFAULT 0,
			sent BIGINT NOT NULL DEFAULT 0,
			dropped BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS stream_sessions_started_at_idx ON stream_sessions (started_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// SaveProfile inserts or replaces a profile.
func (s *Store) SaveProfile(ctx context.Context, p types.Profile) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO stream_profiles (name, host, port, alpha, camera, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (name) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			alpha = EXCLUDED.alpha,
			camera = EXCLUDED.camera,
			updated_at = NOW()
	`, p.Name, p.Host, p.Port, p.Alpha, p.Camera)
	return err
}

// GetProfile loads a profile by name.
func (s *Store) GetProfile(ctx context.Context, name string) (*types.Profile, error) {
	var p types.Profile
	err := s.conn.QueryRow(ctx, `
		SELECT name, host, port, alpha, camera, updated_at
		FROM stream_profiles WHERE name = $1
	`, name).Scan(&p.Name, &p.Host, &p.Port, &p.Alpha, &p.Camera, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns all profiles ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]types.Profile, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT name, host, port, alpha, camera, updated_at
		FROM stream_profiles ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []types.Profile
	for rows.Next() {
		var p types.Profile
		if err := rows.Scan(&p.Name, &p.Host, &p.Port, &p.Alpha, &p.Camera, &p.UpdatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// DeleteProfile removes a profile. Sessions that used it keep their rows.
func (s *Store) DeleteProfile(ctx context.Context, name string) error {
	tag, err := s.conn.Exec(ctx, "DELETE FROM stream_profiles WHERE name = $1", name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	return nil
}

// StartSession records the beginning of a stream run and returns its ID.
// An empty profile is stored as NULL.
func (s *Store) StartSession(ctx context.Context, profile, destination string, alpha float64) (uuid.UUID, error) {
	id := uuid.New()
	var prof *string
	if profile != "" {
		prof = &profile
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO stream_sessions (id, profile, destination, alpha, started_at)
		VALUES ($1::uuid, $2, $3, $4, NOW())
	`, id.String(), prof, destination, alpha)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// FinishSession stores the final counters of a stream run.
func (s *Store) FinishSession(ctx context.Context, id uuid.UUID, c types.SessionCounters) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE stream_sessions
		SET finished_at = NOW(), frames = $2, detections = $3, sent = $4, dropped = $5
		WHERE id = $1::uuid
	`, id.String(), c.Frames, c.Detections, c.Sent, c.Dropped)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListSessions returns the most recent sessions first. limit <= 0 means all.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]types.Session, error) {
	query := `
		SELECT id::text, COALESCE(profile, ''), destination, alpha, started_at, finished_at,
		       frames, detections, sent, dropped
		FROM stream_sessions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		var (
			sess     types.Session
			id       string
			finished *time.Time
		)
		if err := rows.Scan(&id, &sess.Profile, &sess.Destination, &sess.Alpha, &sess.StartedAt, &finished,
			&sess.Frames, &sess.Detections, &sess.Sent, &sess.Dropped); err != nil {
			return nil, err
		}
		if sess.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("bad session id %q: %w", id, err)
		}
		sess.FinishedAt = finished
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Reset drops all application tables to clear the database state.
// The next New recreates them.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS stream_sessions CASCADE;
		DROP TABLE IF EXISTS stream_profiles CASCADE;
	`)
	return err
}
