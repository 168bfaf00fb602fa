package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migration patches a store written by an older release. Each one inspects
// the live schema first, so running the list again is a no-op. Tables that
// do not exist yet are skipped: the schema script creates them in their
// current shape afterwards.
type migration struct {
	name  string
	apply func(tx *sqlx.Tx) error
}

// Order matters: the renames must run before any column addition that
// checks for the new names.
var migrations = []migration{
	{"rename pr_status.copilot_status", renameColumn("pr_status", "copilot_status", "reviewer_status")},
	{"rename pr_status.copilot_comments", renameColumn("pr_status", "copilot_comments", "reviewer_comments")},
	{"add pr_messages.thread_id", addColumn("pr_messages", "thread_id", "TEXT")},
	{"add issue_messages.thread_id", addColumn("issue_messages", "thread_id", "TEXT")},
	{"add pr_status.agent_status", addColumn("pr_status", "agent_status", "TEXT NOT NULL DEFAULT 'pending'")},
	{"add pr_status.ci_workflow", addColumn("pr_status", "ci_workflow", "TEXT NOT NULL DEFAULT ''")},
	{"add pr_status.ci_url", addColumn("pr_status", "ci_url", "TEXT NOT NULL DEFAULT ''")},
	{"add pr_snapshots.draft", addColumn("pr_snapshots", "draft", "INTEGER NOT NULL DEFAULT 0")},
	{"add pr_snapshots.head_sha", addColumn("pr_snapshots", "head_sha", "TEXT NOT NULL DEFAULT ''")},
	{"add issue_snapshots.state_reason", addColumn("issue_snapshots", "state_reason", "TEXT NOT NULL DEFAULT ''")},
}

func migrate(conn *sqlx.DB) error {
	tx, err := conn.Beginx()
	if err != nil {
		return fmt.Errorf("beginning migration: %w", err)
	}
	defer tx.Rollback()

	for _, m := range migrations {
		if err := m.apply(tx); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
	}
	return tx.Commit()
}

func addColumn(table, column, definition string) func(tx *sqlx.Tx) error {
	return func(tx *sqlx.Tx) error {
		ok, err := tableExists(tx, table)
		if err != nil || !ok {
			return err
		}
		has, err := columnExists(tx, table, column)
		if err != nil || has {
			return err
		}
		_, err = tx.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition))
		return err
	}
}

func renameColumn(table, from, to string) func(tx *sqlx.Tx) error {
	return func(tx *sqlx.Tx) error {
		ok, err := tableExists(tx, table)
		if err != nil || !ok {
			return err
		}
		hasOld, err := columnExists(tx, table, from)
		if err != nil || !hasOld {
			return err
		}
		hasNew, err := columnExists(tx, table, to)
		if err != nil || hasNew {
			return err
		}
		_, err = tx.Exec(fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s`, table, from, to))
		return err
	}
}

func tableExists(tx *sqlx.Tx, table string) (bool, error) {
	var n int
	if err := tx.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table); err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return n > 0, nil
}

func columnExists(tx *sqlx.Tx, table, column string) (bool, error) {
	var n int
	if err := tx.Get(&n, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column); err != nil {
		return false, fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}
