package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/esnunes/hookrelay/internal/repo"
)

const schema = `
CREATE TABLE IF NOT EXISTS pr_messages (
    repo          TEXT NOT NULL,
    number        INTEGER NOT NULL,
    channel_id    TEXT NOT NULL,
    message_id    TEXT NOT NULL,
    thread_id     TEXT,
    created_at    TEXT NOT NULL,
    last_updated  TEXT NOT NULL,
    PRIMARY KEY (repo, number)
);

CREATE TABLE IF NOT EXISTS issue_messages (
    repo          TEXT NOT NULL,
    number        INTEGER NOT NULL,
    channel_id    TEXT NOT NULL,
    message_id    TEXT NOT NULL,
    thread_id     TEXT,
    created_at    TEXT NOT NULL,
    last_updated  TEXT NOT NULL,
    PRIMARY KEY (repo, number)
);

CREATE TABLE IF NOT EXISTS pr_snapshots (
    repo           TEXT NOT NULL,
    number         INTEGER NOT NULL,
    title          TEXT NOT NULL DEFAULT '',
    url            TEXT NOT NULL DEFAULT '',
    author         TEXT NOT NULL DEFAULT '',
    branch         TEXT NOT NULL DEFAULT '',
    base_branch    TEXT NOT NULL DEFAULT '',
    head_sha       TEXT NOT NULL DEFAULT '',
    additions      INTEGER NOT NULL DEFAULT 0,
    deletions      INTEGER NOT NULL DEFAULT 0,
    changed_files  INTEGER NOT NULL DEFAULT 0,
    state          TEXT NOT NULL DEFAULT 'open' CHECK (state IN ('open', 'closed', 'merged')),
    draft          INTEGER NOT NULL DEFAULT 0,
    created_at     TEXT NOT NULL DEFAULT '',
    updated_at     TEXT NOT NULL,
    PRIMARY KEY (repo, number)
);

CREATE TABLE IF NOT EXISTS issue_snapshots (
    repo          TEXT NOT NULL,
    number        INTEGER NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    url           TEXT NOT NULL DEFAULT '',
    author        TEXT NOT NULL DEFAULT '',
    labels        TEXT NOT NULL DEFAULT '[]',
    state         TEXT NOT NULL DEFAULT 'open' CHECK (state IN ('open', 'closed')),
    state_reason  TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL DEFAULT '',
    updated_at    TEXT NOT NULL,
    PRIMARY KEY (repo, number)
);

CREATE TABLE IF NOT EXISTS pr_status (
    repo               TEXT NOT NULL,
    number             INTEGER NOT NULL,
    reviewer_status    TEXT NOT NULL DEFAULT 'pending',
    reviewer_comments  INTEGER NOT NULL DEFAULT 0,
    agent_status       TEXT NOT NULL DEFAULT 'pending',
    ci_status          TEXT NOT NULL DEFAULT 'pending',
    ci_workflow        TEXT NOT NULL DEFAULT '',
    ci_url             TEXT NOT NULL DEFAULT '',
    updated_at         TEXT NOT NULL,
    PRIMARY KEY (repo, number)
);

CREATE TABLE IF NOT EXISTS event_log (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    repo           TEXT NOT NULL,
    entity_number  INTEGER,
    event_type     TEXT NOT NULL,
    payload        TEXT NOT NULL,
    created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pr_snapshots_state ON pr_snapshots(repo, state);
CREATE INDEX IF NOT EXISTS idx_issue_snapshots_state ON issue_snapshots(repo, state);
CREATE INDEX IF NOT EXISTS idx_event_log_entity ON event_log(repo, entity_number);
`

// Store is the per-repository durable state: message mappings, entity
// snapshots, derived PR status and the audit log. It is owned by a single
// process for its lifetime and must be closed before exit.
type Store struct {
	db   *sqlx.DB
	path string
	log  log.FieldLogger
	now  func() time.Time
}

type Option func(*Store)

// WithLogger sets the logger used for recovery and audit warnings.
func WithLogger(logger log.FieldLogger) Option {
	return func(s *Store) { s.log = logger }
}

// WithClock sets the time source for written timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens the store for repoName under baseDir, creating it if absent.
//
// A store file that cannot be opened or fails the integrity check is
// deleted together with its WAL siblings and recreated empty. Migrations
// and schema creation errors are returned to the caller.
func Open(repoName, baseDir string, opts ...Option) (*Store, error) {
	if err := repo.Validate(repoName); err != nil {
		return nil, err
	}
	s := &Store{
		path: repo.StateFile(baseDir, repoName),
		log:  log.StandardLogger(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("path", s.path)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	conn, err := openVerified(s.path)
	if err != nil {
		s.log.WithError(err).Warn("State store failed integrity check, recreating it empty")
		if err := removeStoreFiles(s.path); err != nil {
			return nil, fmt.Errorf("removing corrupt store: %w", err)
		}
		if conn, err = openVerified(s.path); err != nil {
			return nil, err
		}
	}

	// Migrations run before schema creation: on a brand-new file they see
	// no tables and skip, and CREATE TABLE then produces the current shape.
	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.db = conn
	return s, nil
}

func openVerified(path string) (*sqlx.DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One invocation, one writer. A single connection also guarantees the
	// checkpoint in Close runs on the connection that owns the WAL.
	conn.SetMaxOpenConns(1)

	var result string
	if err := conn.Get(&result, `PRAGMA integrity_check`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("checking integrity: %w", err)
	}
	if result != "ok" {
		conn.Close()
		return nil, fmt.Errorf("integrity check: %s", result)
	}
	return conn, nil
}

func removeStoreFiles(path string) error {
	for _, name := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Path returns the store's file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the write-ahead log into the main file and releases the
// handle. Ephemeral hosts may discard the -wal file after exit.
func (s *Store) Close() error {
	_, cpErr := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	if cpErr != nil {
		s.log.WithError(cpErr).Warn("WAL checkpoint failed")
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	if cpErr != nil {
		return fmt.Errorf("checkpointing database: %w", cpErr)
	}
	return nil
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
