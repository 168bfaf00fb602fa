package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/esnunes/hookrelay/internal/models"
)

func mappingTable(kind models.Kind) (string, error) {
	switch kind {
	case models.KindPR:
		return "pr_messages", nil
	case models.KindIssue:
		return "issue_messages", nil
	}
	return "", fmt.Errorf("unknown entity kind %q", kind)
}

func snapshotTable(kind models.Kind) (string, error) {
	switch kind {
	case models.KindPR:
		return "pr_snapshots", nil
	case models.KindIssue:
		return "issue_snapshots", nil
	}
	return "", fmt.Errorf("unknown entity kind %q", kind)
}

// Message mappings

type mappingRow struct {
	Repo        string         `db:"repo"`
	Number      int            `db:"number"`
	ChannelID   string         `db:"channel_id"`
	MessageID   string         `db:"message_id"`
	ThreadID    sql.NullString `db:"thread_id"`
	CreatedAt   string         `db:"created_at"`
	LastUpdated string         `db:"last_updated"`
}

func (r mappingRow) model() *models.MessageMapping {
	m := &models.MessageMapping{
		Repo:        r.Repo,
		Number:      r.Number,
		ChannelID:   r.ChannelID,
		MessageID:   r.MessageID,
		CreatedAt:   parseTime(r.CreatedAt),
		LastUpdated: parseTime(r.LastUpdated),
	}
	if r.ThreadID.Valid {
		m.ThreadID = &r.ThreadID.String
	}
	return m
}

// GetMessageMapping returns the mapping for an entity, or nil if none exists.
func (s *Store) GetMessageMapping(kind models.Kind, repo string, number int) (*models.MessageMapping, error) {
	table, err := mappingTable(kind)
	if err != nil {
		return nil, err
	}
	var row mappingRow
	err = s.db.Get(&row,
		`SELECT repo, number, channel_id, message_id, thread_id, created_at, last_updated
		 FROM `+table+` WHERE repo = ? AND number = ?`, repo, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting message mapping: %w", err)
	}
	return row.model(), nil
}

// UpsertMessageMapping records the message representing an entity. An
// existing row is replaced in place and keeps its created_at.
func (s *Store) UpsertMessageMapping(kind models.Kind, repo string, number int, channelID, messageID string, threadID *string) error {
	table, err := mappingTable(kind)
	if err != nil {
		return err
	}
	now := s.stamp()
	_, err = s.db.Exec(
		`INSERT INTO `+table+` (repo, number, channel_id, message_id, thread_id, created_at, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(repo, number) DO UPDATE SET
		     channel_id = excluded.channel_id,
		     message_id = excluded.message_id,
		     thread_id = excluded.thread_id,
		     last_updated = excluded.last_updated`,
		repo, number, channelID, messageID, threadID, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting message mapping: %w", err)
	}
	return nil
}

func (s *Store) UpdateThread(kind models.Kind, repo string, number int, threadID string) error {
	table, err := mappingTable(kind)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE `+table+` SET thread_id = ?, last_updated = ? WHERE repo = ? AND number = ?`,
		threadID, s.stamp(), repo, number,
	)
	if err != nil {
		return fmt.Errorf("updating thread: %w", err)
	}
	return nil
}

func (s *Store) TouchTimestamp(kind models.Kind, repo string, number int) error {
	table, err := mappingTable(kind)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE `+table+` SET last_updated = ? WHERE repo = ? AND number = ?`,
		s.stamp(), repo, number,
	)
	if err != nil {
		return fmt.Errorf("touching mapping: %w", err)
	}
	return nil
}

func (s *Store) DeleteMapping(kind models.Kind, repo string, number int) error {
	table, err := mappingTable(kind)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM `+table+` WHERE repo = ? AND number = ?`, repo, number); err != nil {
		return fmt.Errorf("deleting mapping: %w", err)
	}
	return nil
}

// Snapshots

type prSnapshotRow struct {
	Repo         string `db:"repo"`
	Number       int    `db:"number"`
	Title        string `db:"title"`
	URL          string `db:"url"`
	Author       string `db:"author"`
	Branch       string `db:"branch"`
	BaseBranch   string `db:"base_branch"`
	HeadSHA      string `db:"head_sha"`
	Additions    int    `db:"additions"`
	Deletions    int    `db:"deletions"`
	ChangedFiles int    `db:"changed_files"`
	State        string `db:"state"`
	Draft        bool   `db:"draft"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func (s *Store) GetPRSnapshot(repo string, number int) (*models.PRSnapshot, error) {
	var r prSnapshotRow
	err := s.db.Get(&r,
		`SELECT repo, number, title, url, author, branch, base_branch, head_sha,
		        additions, deletions, changed_files, state, draft, created_at, updated_at
		 FROM pr_snapshots WHERE repo = ? AND number = ?`, repo, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting PR snapshot: %w", err)
	}
	return &models.PRSnapshot{
		Repo:         r.Repo,
		Number:       r.Number,
		Title:        r.Title,
		URL:          r.URL,
		Author:       r.Author,
		Branch:       r.Branch,
		BaseBranch:   r.BaseBranch,
		HeadSHA:      r.HeadSHA,
		Additions:    r.Additions,
		Deletions:    r.Deletions,
		ChangedFiles: r.ChangedFiles,
		State:        r.State,
		Draft:        r.Draft,
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}, nil
}

// UpsertPRSnapshot replaces the stored snapshot wholesale.
func (s *Store) UpsertPRSnapshot(snap models.PRSnapshot) error {
	row := prSnapshotRow{
		Repo:         snap.Repo,
		Number:       snap.Number,
		Title:        snap.Title,
		URL:          snap.URL,
		Author:       snap.Author,
		Branch:       snap.Branch,
		BaseBranch:   snap.BaseBranch,
		HeadSHA:      snap.HeadSHA,
		Additions:    snap.Additions,
		Deletions:    snap.Deletions,
		ChangedFiles: snap.ChangedFiles,
		State:        snap.State,
		Draft:        snap.Draft,
		CreatedAt:    formatTime(snap.CreatedAt),
		UpdatedAt:    s.stamp(),
	}
	_, err := s.db.NamedExec(
		`INSERT INTO pr_snapshots (repo, number, title, url, author, branch, base_branch, head_sha,
		                           additions, deletions, changed_files, state, draft, created_at, updated_at)
		 VALUES (:repo, :number, :title, :url, :author, :branch, :base_branch, :head_sha,
		         :additions, :deletions, :changed_files, :state, :draft, :created_at, :updated_at)
		 ON CONFLICT(repo, number) DO UPDATE SET
		     title = excluded.title, url = excluded.url, author = excluded.author,
		     branch = excluded.branch, base_branch = excluded.base_branch, head_sha = excluded.head_sha,
		     additions = excluded.additions, deletions = excluded.deletions,
		     changed_files = excluded.changed_files, state = excluded.state, draft = excluded.draft,
		     created_at = excluded.created_at, updated_at = excluded.updated_at`,
		row,
	)
	if err != nil {
		return fmt.Errorf("upserting PR snapshot: %w", err)
	}
	return nil
}

type issueSnapshotRow struct {
	Repo        string `db:"repo"`
	Number      int    `db:"number"`
	Title       string `db:"title"`
	URL         string `db:"url"`
	Author      string `db:"author"`
	Labels      string `db:"labels"`
	State       string `db:"state"`
	StateReason string `db:"state_reason"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (s *Store) GetIssueSnapshot(repo string, number int) (*models.IssueSnapshot, error) {
	var r issueSnapshotRow
	err := s.db.Get(&r,
		`SELECT repo, number, title, url, author, labels, state, state_reason, created_at, updated_at
		 FROM issue_snapshots WHERE repo = ? AND number = ?`, repo, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting issue snapshot: %w", err)
	}
	snap := &models.IssueSnapshot{
		Repo:        r.Repo,
		Number:      r.Number,
		Title:       r.Title,
		URL:         r.URL,
		Author:      r.Author,
		State:       r.State,
		StateReason: r.StateReason,
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.Labels), &snap.Labels); err != nil {
		return nil, fmt.Errorf("decoding issue labels: %w", err)
	}
	return snap, nil
}

func (s *Store) UpsertIssueSnapshot(snap models.IssueSnapshot) error {
	labels := snap.Labels
	if labels == nil {
		labels = []string{}
	}
	encoded, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("encoding issue labels: %w", err)
	}
	row := issueSnapshotRow{
		Repo:        snap.Repo,
		Number:      snap.Number,
		Title:       snap.Title,
		URL:         snap.URL,
		Author:      snap.Author,
		Labels:      string(encoded),
		State:       snap.State,
		StateReason: snap.StateReason,
		CreatedAt:   formatTime(snap.CreatedAt),
		UpdatedAt:   s.stamp(),
	}
	_, err = s.db.NamedExec(
		`INSERT INTO issue_snapshots (repo, number, title, url, author, labels, state, state_reason, created_at, updated_at)
		 VALUES (:repo, :number, :title, :url, :author, :labels, :state, :state_reason, :created_at, :updated_at)
		 ON CONFLICT(repo, number) DO UPDATE SET
		     title = excluded.title, url = excluded.url, author = excluded.author,
		     labels = excluded.labels, state = excluded.state, state_reason = excluded.state_reason,
		     created_at = excluded.created_at, updated_at = excluded.updated_at`,
		row,
	)
	if err != nil {
		return fmt.Errorf("upserting issue snapshot: %w", err)
	}
	return nil
}

// ListOpenEntityNumbers returns the numbers whose snapshot is open, ascending.
func (s *Store) ListOpenEntityNumbers(kind models.Kind, repo string) ([]int, error) {
	table, err := snapshotTable(kind)
	if err != nil {
		return nil, err
	}
	var numbers []int
	if err := s.db.Select(&numbers,
		`SELECT number FROM `+table+` WHERE repo = ? AND state = 'open' ORDER BY number ASC`, repo); err != nil {
		return nil, fmt.Errorf("listing open entities: %w", err)
	}
	return numbers, nil
}

// ListOpenPRsByBranch returns open PRs whose head branch is branch, ascending.
// Workflow runs from forks carry no pull_requests array, so the branch is
// the only link back to the PR.
func (s *Store) ListOpenPRsByBranch(repo, branch string) ([]int, error) {
	var numbers []int
	if err := s.db.Select(&numbers,
		`SELECT number FROM pr_snapshots WHERE repo = ? AND branch = ? AND state = 'open' ORDER BY number ASC`,
		repo, branch); err != nil {
		return nil, fmt.Errorf("listing PRs by branch: %w", err)
	}
	return numbers, nil
}

// Derived PR status

type statusRow struct {
	Repo             string `db:"repo"`
	Number           int    `db:"number"`
	ReviewerStatus   string `db:"reviewer_status"`
	ReviewerComments int    `db:"reviewer_comments"`
	AgentStatus      string `db:"agent_status"`
	CIStatus         string `db:"ci_status"`
	CIWorkflow       string `db:"ci_workflow"`
	CIURL            string `db:"ci_url"`
	UpdatedAt        string `db:"updated_at"`
}

// GetStatus returns the derived status of a PR, or nil if no signal has been
// recorded yet.
func (s *Store) GetStatus(repo string, number int) (*models.PRStatus, error) {
	var r statusRow
	err := s.db.Get(&r,
		`SELECT repo, number, reviewer_status, reviewer_comments, agent_status,
		        ci_status, ci_workflow, ci_url, updated_at
		 FROM pr_status WHERE repo = ? AND number = ?`, repo, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting PR status: %w", err)
	}
	return &models.PRStatus{
		Repo:             r.Repo,
		Number:           r.Number,
		ReviewerStatus:   models.ReviewerStatus(r.ReviewerStatus),
		ReviewerComments: r.ReviewerComments,
		AgentStatus:      models.AgentStatus(r.AgentStatus),
		CIStatus:         models.CIStatus(r.CIStatus),
		CIWorkflow:       r.CIWorkflow,
		CIURL:            r.CIURL,
		UpdatedAt:        parseTime(r.UpdatedAt),
	}, nil
}

// EnsureStatusRow creates the default status row if it is absent.
func (s *Store) EnsureStatusRow(repo string, number int) error {
	_, err := s.db.Exec(
		`INSERT INTO pr_status (repo, number, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(repo, number) DO NOTHING`,
		repo, number, s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("ensuring status row: %w", err)
	}
	return nil
}

// UpdateReviewerStatus records the automated reviewer's state. A nil comment
// count keeps the stored one.
func (s *Store) UpdateReviewerStatus(repo string, number int, status models.ReviewerStatus, comments *int) error {
	if !status.Valid() {
		return fmt.Errorf("invalid reviewer status %q", status)
	}
	if err := s.EnsureStatusRow(repo, number); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`UPDATE pr_status SET reviewer_status = ?, reviewer_comments = COALESCE(?, reviewer_comments), updated_at = ?
		 WHERE repo = ? AND number = ?`,
		string(status), comments, s.stamp(), repo, number,
	)
	if err != nil {
		return fmt.Errorf("updating reviewer status: %w", err)
	}
	return nil
}

func (s *Store) UpdateAgentStatus(repo string, number int, status models.AgentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid agent status %q", status)
	}
	if err := s.EnsureStatusRow(repo, number); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`UPDATE pr_status SET agent_status = ?, updated_at = ? WHERE repo = ? AND number = ?`,
		string(status), s.stamp(), repo, number,
	)
	if err != nil {
		return fmt.Errorf("updating agent status: %w", err)
	}
	return nil
}

// UpdateCIStatus records the latest CI state. Empty workflow or url keep the
// stored values.
func (s *Store) UpdateCIStatus(repo string, number int, status models.CIStatus, workflow, url string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid CI status %q", status)
	}
	if err := s.EnsureStatusRow(repo, number); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`UPDATE pr_status SET ci_status = ?,
		     ci_workflow = COALESCE(NULLIF(?, ''), ci_workflow),
		     ci_url = COALESCE(NULLIF(?, ''), ci_url),
		     updated_at = ?
		 WHERE repo = ? AND number = ?`,
		string(status), workflow, url, s.stamp(), repo, number,
	)
	if err != nil {
		return fmt.Errorf("updating CI status: %w", err)
	}
	return nil
}

// Audit log

// AppendAuditLog records an inbound event. Failures are logged and never
// returned: the audit trail must not block the event's primary handling.
func (s *Store) AppendAuditLog(repo string, entityNumber *int, eventType string, payload any) {
	logger := s.log.WithField("event", eventType)
	encoded, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).Warn("Could not encode audit payload")
		return
	}
	if _, err := s.db.Exec(
		`INSERT INTO event_log (repo, entity_number, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		repo, entityNumber, eventType, string(encoded), s.stamp(),
	); err != nil {
		logger.WithError(err).Warn("Could not append audit log entry")
	}
}

type auditRow struct {
	ID           int64         `db:"id"`
	Repo         string        `db:"repo"`
	EntityNumber sql.NullInt64 `db:"entity_number"`
	EventType    string        `db:"event_type"`
	Payload      string        `db:"payload"`
	CreatedAt    string        `db:"created_at"`
}

// RecentAuditLog returns up to limit entries, newest first.
func (s *Store) RecentAuditLog(repo string, limit int) ([]models.AuditLogEntry, error) {
	var rows []auditRow
	if err := s.db.Select(&rows,
		`SELECT id, repo, entity_number, event_type, payload, created_at
		 FROM event_log WHERE repo = ? ORDER BY id DESC LIMIT ?`, repo, limit); err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}
	results := make([]models.AuditLogEntry, 0, len(rows))
	for _, r := range rows {
		e := models.AuditLogEntry{
			ID:          r.ID,
			Repo:        r.Repo,
			EventType:   r.EventType,
			PayloadJSON: r.Payload,
			CreatedAt:   parseTime(r.CreatedAt),
		}
		if r.EntityNumber.Valid {
			n := int(r.EntityNumber.Int64)
			e.EntityNumber = &n
		}
		results = append(results, e)
	}
	return results, nil
}
