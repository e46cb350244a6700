// Package audit keeps a queryable record of every settled provider
// call in a dedicated SQLite database, with time-based retention.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/klio-ai/klio/pkg/models"
)

// Logger writes and queries call records.
type Logger struct {
	db      *sql.DB
	cfg     models.AuditConfig
	done    chan struct{}
	wg      sync.WaitGroup
	include map[string]bool
}

// New opens the audit SQLite database and creates the schema.
func New(cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	inc := make(map[string]bool)
	for _, v := range cfg.Include {
		inc[v] = true
	}

	l := &Logger{
		db:      db,
		cfg:     cfg,
		done:    make(chan struct{}),
		include: inc,
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS call_log (
		request_id  TEXT PRIMARY KEY,
		key_hash    TEXT NOT NULL,
		key_prefix  TEXT NOT NULL,
		model       TEXT NOT NULL,
		prompt_hash TEXT NOT NULL,
		prompt      TEXT,
		response    TEXT,
		status_code INTEGER,
		attempts    INTEGER,
		cache_hit   INTEGER NOT NULL DEFAULT 0,
		kind        TEXT NOT NULL,
		latency_ms  INTEGER,
		created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_call_model ON call_log(model)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_call_created ON call_log(created_at)`)
	return err
}

// Log inserts a call record, respecting the include configuration.
func (l *Logger) Log(ctx context.Context, rec models.CallRecord) error {
	if l == nil || l.db == nil {
		return nil
	}

	prompt := rec.Prompt
	response := rec.Response
	if !l.include["prompts"] {
		prompt = ""
	}
	if !l.include["responses"] {
		response = ""
	}
	if l.cfg.MaxBodySize > 0 {
		if len(prompt) > l.cfg.MaxBodySize {
			prompt = prompt[:l.cfg.MaxBodySize]
		}
		if len(response) > l.cfg.MaxBodySize {
			response = response[:l.cfg.MaxBodySize]
		}
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO call_log
		(request_id, key_hash, key_prefix, model, prompt_hash, prompt, response,
		 status_code, attempts, cache_hit, kind, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.KeyHash, rec.KeyPrefix, rec.Model, rec.PromptHash,
		prompt, response, rec.StatusCode, rec.Attempts, rec.CacheHit,
		rec.Kind, rec.LatencyMs, rec.CreatedAt,
	)
	return err
}

// Query returns call records matching the given options.
func (l *Logger) Query(ctx context.Context, opts models.CallQueryOpts) ([]models.CallRecord, error) {
	q := `SELECT request_id, key_hash, key_prefix, model, prompt_hash, prompt, response,
		status_code, attempts, cache_hit, kind, latency_ms, created_at
		FROM call_log WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Model != "" {
		q += " AND model = ?"
		args = append(args, opts.Model)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		var r models.CallRecord
		var prompt, response sql.NullString
		if err := rows.Scan(
			&r.RequestID, &r.KeyHash, &r.KeyPrefix, &r.Model, &r.PromptHash,
			&prompt, &response, &r.StatusCode, &r.Attempts, &r.CacheHit,
			&r.Kind, &r.LatencyMs, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		r.Prompt = prompt.String
		r.Response = response.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats returns aggregate call counts grouped by model and day.
func (l *Logger) Stats(ctx context.Context) ([]models.CallStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT model, date(created_at) as day, count(*) as cnt
		 FROM call_log GROUP BY model, day ORDER BY day DESC, model`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.CallStat
	for rows.Next() {
		var s models.CallStat
		var day sql.NullString
		if err := rows.Scan(&s.Model, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes records older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM call_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}

// HashKey returns the SHA-256 hex hash and 8-char prefix for a credential.
func HashKey(key string) (hash, prefix string) {
	h := sha256.Sum256([]byte(key))
	hash = hex.EncodeToString(h[:])
	if len(key) > 8 {
		prefix = key[:8]
	} else {
		prefix = key
	}
	return hash, prefix
}
