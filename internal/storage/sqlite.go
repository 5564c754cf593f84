package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lennylistens/listend/internal/intake"
	"github.com/lennylistens/listend/internal/status"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding status records, the outstanding
// index, session indirections, and the dispatch job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "listend.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in
// ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Status records ---

// PutRecord inserts or replaces the status record for a conversation.
// Transition legality is the lifecycle manager's concern, not the store's.
func (s *Store) PutRecord(rec status.Record) error {
	intakeJSON, err := json.Marshal(rec.Intake)
	if err != nil {
		return fmt.Errorf("marshalling intake: %w", err)
	}

	generatedAt := ""
	if !rec.GeneratedAt.IsZero() {
		generatedAt = rec.GeneratedAt.UTC().Format(time.RFC3339)
	}

	_, err = s.db.Exec(`
		INSERT INTO perspectives (conversation_id, status, intake_json, perspective_id, preview_url, share_url, error, created_at, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			status = excluded.status,
			intake_json = excluded.intake_json,
			perspective_id = excluded.perspective_id,
			preview_url = excluded.preview_url,
			share_url = excluded.share_url,
			error = excluded.error,
			created_at = excluded.created_at,
			generated_at = excluded.generated_at`,
		rec.ConversationID, string(rec.Status), string(intakeJSON),
		rec.PerspectiveID, rec.PreviewURL, rec.ShareURL, rec.ErrorMessage,
		rec.CreatedAt.UTC().Format(time.RFC3339), generatedAt,
	)
	return err
}

// GetRecord loads the status record for a conversation.
func (s *Store) GetRecord(conversationID string) (status.Record, error) {
	var rec status.Record
	var st, intakeJSON, createdAt, generatedAt string
	err := s.db.QueryRow(`
		SELECT conversation_id, status, intake_json, perspective_id, preview_url, share_url, error, created_at, generated_at
		FROM perspectives WHERE conversation_id = ?`, conversationID,
	).Scan(&rec.ConversationID, &st, &intakeJSON, &rec.PerspectiveID, &rec.PreviewURL, &rec.ShareURL, &rec.ErrorMessage, &createdAt, &generatedAt)
	if err == sql.ErrNoRows {
		return status.Record{}, ErrNotFound
	}
	if err != nil {
		return status.Record{}, err
	}

	rec.Status = status.Status(st)

	var in intake.Record
	if err := json.Unmarshal([]byte(intakeJSON), &in); err != nil {
		return status.Record{}, fmt.Errorf("parsing intake for %s: %w", conversationID, err)
	}
	rec.Intake = in

	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return status.Record{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if generatedAt != "" {
		if rec.GeneratedAt, err = time.Parse(time.RFC3339, generatedAt); err != nil {
			return status.Record{}, fmt.Errorf("parsing generated_at: %w", err)
		}
	}
	return rec, nil
}

// DeleteRecord removes a status record and its outstanding-index entry.
func (s *Store) DeleteRecord(conversationID string) error {
	if _, err := s.db.Exec("DELETE FROM pending_index WHERE conversation_id = ?", conversationID); err != nil {
		return err
	}
	res, err := s.db.Exec("DELETE FROM perspectives WHERE conversation_id = ?", conversationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Outstanding index ---

// PushPending records a conversation as outstanding. Re-pushing the same id
// refreshes its position.
func (s *Store) PushPending(conversationID string, queuedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO pending_index (conversation_id, queued_at) VALUES (?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET queued_at = excluded.queued_at`,
		conversationID, queuedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// RemovePending prunes a conversation from the outstanding index. Removing
// an id that is not present is not an error.
func (s *Store) RemovePending(conversationID string) error {
	_, err := s.db.Exec("DELETE FROM pending_index WHERE conversation_id = ?", conversationID)
	return err
}

// ListPending returns outstanding conversation ids, most recently queued
// first. A limit <= 0 returns the whole index.
func (s *Store) ListPending(limit int) ([]string, error) {
	query := "SELECT conversation_id FROM pending_index ORDER BY queued_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Sessions ---

// PutSession indexes an ephemeral session token to a conversation id.
func (s *Store) PutSession(sessionID, conversationID string, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, conversation_id, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET conversation_id = excluded.conversation_id, expires_at = excluded.expires_at`,
		sessionID, conversationID, expiresAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetSession resolves a session token to its conversation id. Expired or
// unknown sessions surface as ErrNotFound.
func (s *Store) GetSession(sessionID string) (string, error) {
	var conversationID, expiresAt string
	err := s.db.QueryRow("SELECT conversation_id, expires_at FROM sessions WHERE session_id = ?", sessionID).
		Scan(&conversationID, &expiresAt)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	exp, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return "", fmt.Errorf("parsing expires_at: %w", err)
	}
	if time.Now().UTC().After(exp) {
		s.db.Exec("DELETE FROM sessions WHERE session_id = ?", sessionID)
		return "", ErrNotFound
	}
	return conversationID, nil
}

// --- Jobs ---

// EnqueueJob adds a job to the dispatch queue. MaxAttempts defaults to 1:
// generation is never retried automatically.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob atomically claims the oldest runnable job of the given types.
// Returns nil when the queue is empty.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

// CompleteJob marks a claimed job as completed.
func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob marks a claimed job as failed, recording the error. Jobs whose
// attempts have not reached max_attempts return to pending; with the default
// max_attempts of 1 every failure is final.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now, id)
	} else {
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now, id)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}
