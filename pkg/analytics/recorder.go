// Package analytics records learning events (topics viewed, tests
// completed, questions asked) and answers the aggregate queries the
// admin surface and quota enforcement need.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/klio-ai/klio/pkg/models"
)

// Recorder records and queries learning events.
type Recorder interface {
	// Track stores one event.
	Track(ctx context.Context, ev models.Event) error
	// TrackAsync stores the event off the reply path; failures are
	// logged, never surfaced.
	TrackAsync(ev models.Event)
	// Summary returns event counts grouped by type.
	Summary(ctx context.Context) ([]models.EventSummary, error)
	// CountByUser returns how many events a user generated since a given time.
	CountByUser(ctx context.Context, userID int64, since time.Time) (int64, error)
	// TopTopics returns the most viewed topics.
	TopTopics(ctx context.Context, limit int) ([]models.TopicCount, error)
	// Close releases resources.
	Close() error
}

// SQLiteRecorder implements Recorder with a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	log zerolog.Logger
}

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_events_user_time ON events(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

// New creates a SQLiteRecorder and runs auto-migration.
func New(dbPath string, logger zerolog.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}

	if _, err := db.Exec(createEventsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate analytics db: %w", err)
	}

	return &SQLiteRecorder{db: db, log: logger}, nil
}

// Track stores one event.
func (r *SQLiteRecorder) Track(ctx context.Context, ev models.Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (user_id, type, payload, created_at) VALUES (?, ?, ?, ?)`,
		ev.UserID, string(ev.Type), ev.Payload, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("track event: %w", err)
	}
	return nil
}

// TrackAsync records the event in a goroutine so analytics never
// delays a user-facing reply.
func (r *SQLiteRecorder) TrackAsync(ev models.Event) {
	go func() {
		if err := r.Track(context.Background(), ev); err != nil {
			r.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("analytics track failed")
		}
	}()
}

// Summary returns event counts grouped by type.
func (r *SQLiteRecorder) Summary(ctx context.Context) ([]models.EventSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM events GROUP BY type ORDER BY type`)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.EventSummary
	for rows.Next() {
		var s models.EventSummary
		if err := rows.Scan(&s.Type, &s.Count); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// CountByUser returns how many events a user generated since a given time.
func (r *SQLiteRecorder) CountByUser(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE user_id = ? AND created_at >= ?`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// TopTopics returns the most viewed topics, by topic_viewed payload.
func (r *SQLiteRecorder) TopTopics(ctx context.Context, limit int) ([]models.TopicCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload, COUNT(*) as cnt FROM events
		 WHERE type = ? AND payload != ''
		 GROUP BY payload ORDER BY cnt DESC LIMIT ?`,
		string(models.EventTopicViewed), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("top topics: %w", err)
	}
	defer rows.Close()

	var topics []models.TopicCount
	for rows.Next() {
		var tc models.TopicCount
		if err := rows.Scan(&tc.Topic, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, tc)
	}
	return topics, rows.Err()
}

// Close releases the database connection.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
