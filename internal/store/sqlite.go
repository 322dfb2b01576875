package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/driftwoodlabs/retain/internal/memory"
)

const (
	defaultRecallLimit = 10
	maxFTSTokens       = 16
	relatedPerDepth    = 5
)

var wordRegex = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_\-]{2,}`)

// SQLite is the reference storage backend: a single-file sqlite
// database with an FTS5 index for recall and related lookups.
type SQLite struct {
	mu         sync.Mutex
	db         *sql.DB
	path       string
	silentDays int
}

var _ memory.Store = (*SQLite)(nil)

// New prepares a backend at path. silentDays is the retention window
// given to records promoted during cleanup.
func New(path string, silentDays int) *SQLite {
	if silentDays < 1 {
		silentDays = 30
	}
	return &SQLite{path: path, silentDays: silentDays}
}

// Initialize opens the database and applies the schema. Idempotent.
func (s *SQLite) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Shutdown closes the database. Idempotent.
func (s *SQLite) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			tier TEXT NOT NULL DEFAULT 'ephemeral',
			score INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT 'auto_capture',
			created_at TEXT NOT NULL,
			expires_at TEXT,
			reinforcement_count INTEGER NOT NULL DEFAULT 0,
			last_reinforced TEXT,
			downgraded_from TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content,
			content='memories',
			content_rowid='rowid',
			tokenize='unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
			INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	return s.db, nil
}

// Store inserts a record and returns its generated id.
func (s *SQLite) Store(ctx context.Context, content string, meta memory.Metadata) (string, error) {
	db, err := s.conn()
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	source := meta.Source
	if source == "" {
		source = memory.SourceAutoCapture
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO memories (id, content, tier, score, source, created_at, expires_at, reinforcement_count, last_reinforced, downgraded_from)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, strings.TrimSpace(content), string(meta.Tier), meta.Score, string(source),
		formatTime(createdAt), formatTimePtr(meta.ExpiresAt), meta.ReinforcementCount,
		formatTimePtr(meta.LastReinforced), string(meta.DowngradedFrom))
	if err != nil {
		return "", fmt.Errorf("store memory: %w", err)
	}
	return id, nil
}

// Recall ranks records against the query via bm25; scores are
// normalized into [0,1] relevance, best match first.
func (s *SQLite) Recall(ctx context.Context, query string, opts memory.RecallOptions) ([]memory.Record, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}

	matchQuery := buildFTSMatchQuery(extractKeywords(query))
	if matchQuery == "" {
		return nil, nil
	}

	q := `
		SELECT m.id, m.content, m.tier, m.score, m.source,
		       m.created_at, m.expires_at, m.reinforcement_count, m.last_reinforced, m.downgraded_from,
		       bm25(memories_fts) AS bm25_score
		FROM memories m
		JOIN memories_fts f ON m.rowid = f.rowid
		WHERE memories_fts MATCH ?
	`
	args := []any{matchQuery}
	if opts.Tier != "" {
		q += ` AND m.tier = ?`
		args = append(args, string(opts.Tier))
	}
	q += ` ORDER BY bm25(memories_fts) LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recall query: %w", err)
	}
	defer rows.Close()

	records, bm25Scores, err := scanScoredRecords(rows)
	if err != nil {
		return nil, err
	}

	for i, rel := range normalizeBM25(bm25Scores) {
		records[i].Relevance = rel
	}
	return records, nil
}

// List returns records newest first, without query ranking.
func (s *SQLite) List(ctx context.Context, limit int, tier memory.Tier) ([]memory.Record, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultRecallLimit
	}

	q := `
		SELECT id, content, tier, score, source,
		       created_at, expires_at, reinforcement_count, last_reinforced, downgraded_from
		FROM memories
	`
	args := []any{}
	if tier != "" {
		q += ` WHERE tier = ?`
		args = append(args, string(tier))
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list query: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Update rewrites a record in place. Re-applying the same tier is a
// no-op; a missing id is an error.
func (s *SQLite) Update(ctx context.Context, id, content string, meta memory.Metadata) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, `
		UPDATE memories
		SET content = ?, tier = ?, score = ?, source = ?,
		    expires_at = ?, reinforcement_count = ?, last_reinforced = ?, downgraded_from = ?
		WHERE id = ?
	`, strings.TrimSpace(content), string(meta.Tier), meta.Score, string(meta.Source),
		formatTimePtr(meta.ExpiresAt), meta.ReinforcementCount,
		formatTimePtr(meta.LastReinforced), string(meta.DowngradedFrom), id)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update memory rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update memory: id %s not found", id)
	}
	return nil
}

// Forget deletes a record. Deleting a missing id is a no-op.
func (s *SQLite) Forget(ctx context.Context, id string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("forget memory: %w", err)
	}
	return nil
}

// Related finds neighbors of a record by matching its own content
// against the FTS index, excluding the record itself. Depth widens the
// candidate window; this backend has no deeper graph to walk.
func (s *SQLite) Related(ctx context.Context, id string, depth int) ([]memory.Record, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var content string
	if err := db.QueryRowContext(ctx, `SELECT content FROM memories WHERE id = ?`, id).Scan(&content); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("related: id %s not found", id)
		}
		return nil, fmt.Errorf("related load: %w", err)
	}

	matchQuery := buildFTSMatchQuery(extractKeywords(content))
	if matchQuery == "" {
		return nil, nil
	}

	if depth < 1 {
		depth = 1
	}
	limit := depth * relatedPerDepth

	rows, err := db.QueryContext(ctx, `
		SELECT m.id, m.content, m.tier, m.score, m.source,
		       m.created_at, m.expires_at, m.reinforcement_count, m.last_reinforced, m.downgraded_from,
		       bm25(memories_fts) AS bm25_score
		FROM memories m
		JOIN memories_fts f ON m.rowid = f.rowid
		WHERE memories_fts MATCH ? AND m.id != ?
		ORDER BY bm25(memories_fts)
		LIMIT ?
	`, matchQuery, id, limit)
	if err != nil {
		return nil, fmt.Errorf("related query: %w", err)
	}
	defer rows.Close()

	records, bm25Scores, err := scanScoredRecords(rows)
	if err != nil {
		return nil, err
	}
	for i, rel := range normalizeBM25(bm25Scores) {
		records[i].Relevance = rel
	}
	return records, nil
}

// Cleanup sweeps expired ephemeral records: reinforced ones are
// promoted to silent with a fresh window, the rest are deleted.
func (s *SQLite) Cleanup(ctx context.Context) (memory.CleanupStats, error) {
	db, err := s.conn()
	if err != nil {
		return memory.CleanupStats{}, err
	}

	now := time.Now().UTC()
	nowStr := formatTime(now)
	silentExpiry := formatTime(now.Add(time.Duration(s.silentDays) * 24 * time.Hour))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return memory.CleanupStats{}, fmt.Errorf("begin cleanup: %w", err)
	}
	defer tx.Rollback()

	promoted, err := tx.ExecContext(ctx, `
		UPDATE memories
		SET tier = 'silent', expires_at = ?
		WHERE tier = 'ephemeral' AND expires_at IS NOT NULL AND expires_at < ?
		  AND reinforcement_count >= 1
	`, silentExpiry, nowStr)
	if err != nil {
		return memory.CleanupStats{}, fmt.Errorf("cleanup promote: %w", err)
	}
	upgraded, err := promoted.RowsAffected()
	if err != nil {
		return memory.CleanupStats{}, fmt.Errorf("cleanup promote rows: %w", err)
	}

	removed, err := tx.ExecContext(ctx, `
		DELETE FROM memories
		WHERE tier = 'ephemeral' AND expires_at IS NOT NULL AND expires_at < ?
		  AND reinforcement_count < 1
	`, nowStr)
	if err != nil {
		return memory.CleanupStats{}, fmt.Errorf("cleanup delete: %w", err)
	}
	deleted, err := removed.RowsAffected()
	if err != nil {
		return memory.CleanupStats{}, fmt.Errorf("cleanup delete rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return memory.CleanupStats{}, fmt.Errorf("commit cleanup: %w", err)
	}

	return memory.CleanupStats{Deleted: int(deleted), Upgraded: int(upgraded)}, nil
}

func (s *SQLite) HealthCheck(ctx context.Context) (memory.Health, error) {
	db, err := s.conn()
	if err != nil {
		return memory.Health{Healthy: false, Backend: "sqlite"}, nil
	}
	if err := db.PingContext(ctx); err != nil {
		return memory.Health{Healthy: false, Backend: "sqlite"}, nil
	}
	return memory.Health{Healthy: true, Backend: "sqlite"}, nil
}

// Count returns the number of stored records, optionally per tier.
func (s *SQLite) Count(ctx context.Context, tier memory.Tier) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	q := `SELECT COUNT(*) FROM memories`
	args := []any{}
	if tier != "" {
		q += ` WHERE tier = ?`
		args = append(args, string(tier))
	}

	var count int
	if err := db.QueryRowContext(ctx, q, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return count, nil
}

func scanRecords(rows *sql.Rows) ([]memory.Record, error) {
	result := make([]memory.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return result, nil
}

func scanScoredRecords(rows *sql.Rows) ([]memory.Record, []float64, error) {
	records := make([]memory.Record, 0)
	scores := make([]float64, 0)
	for rows.Next() {
		var rec memory.Record
		var tier, source, createdAt, downgradedFrom string
		var expiresAt, lastReinforced sql.NullString
		var bm25Score float64
		if err := rows.Scan(
			&rec.ID, &rec.Content, &tier, &rec.Meta.Score, &source,
			&createdAt, &expiresAt, &rec.Meta.ReinforcementCount, &lastReinforced, &downgradedFrom,
			&bm25Score,
		); err != nil {
			return nil, nil, fmt.Errorf("scan scored record: %w", err)
		}
		fillMeta(&rec, tier, source, createdAt, expiresAt, lastReinforced, downgradedFrom)
		records = append(records, rec)
		scores = append(scores, bm25Score)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate scored records: %w", err)
	}
	return records, scores, nil
}

func scanRecord(rows *sql.Rows) (memory.Record, error) {
	var rec memory.Record
	var tier, source, createdAt, downgradedFrom string
	var expiresAt, lastReinforced sql.NullString
	if err := rows.Scan(
		&rec.ID, &rec.Content, &tier, &rec.Meta.Score, &source,
		&createdAt, &expiresAt, &rec.Meta.ReinforcementCount, &lastReinforced, &downgradedFrom,
	); err != nil {
		return memory.Record{}, fmt.Errorf("scan record: %w", err)
	}
	fillMeta(&rec, tier, source, createdAt, expiresAt, lastReinforced, downgradedFrom)
	return rec, nil
}

func fillMeta(rec *memory.Record, tier, source, createdAt string, expiresAt, lastReinforced sql.NullString, downgradedFrom string) {
	rec.Meta.Tier = memory.Tier(tier)
	rec.Meta.Source = memory.Source(source)
	rec.Meta.CreatedAt = parseTime(createdAt)
	if expiresAt.Valid && expiresAt.String != "" {
		t := parseTime(expiresAt.String)
		rec.Meta.ExpiresAt = &t
	}
	if lastReinforced.Valid && lastReinforced.String != "" {
		t := parseTime(lastReinforced.String)
		rec.Meta.LastReinforced = &t
	}
	rec.Meta.DowngradedFrom = memory.Tier(downgradedFrom)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
