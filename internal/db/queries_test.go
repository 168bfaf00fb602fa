package db

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnunes/hookrelay/internal/models"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestUpsertMessageMappingIsIdempotent(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.UpsertMessageMapping(models.KindPR, testRepo, 42, "c1", "m1", nil))
	first, err := s.GetMessageMapping(models.KindPR, testRepo, 42)
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, s.UpsertMessageMapping(models.KindPR, testRepo, 42, "c2", "m2", strPtr("t2")))
	second, err := s.GetMessageMapping(models.KindPR, testRepo, 42)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, "c2", second.ChannelID)
	assert.Equal(t, "m2", second.MessageID)
	require.NotNil(t, second.ThreadID)
	assert.Equal(t, "t2", *second.ThreadID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.LastUpdated.After(first.LastUpdated))

	var rows int
	require.NoError(t, s.db.Get(&rows, `SELECT COUNT(*) FROM pr_messages WHERE repo = ? AND number = ?`, testRepo, 42))
	assert.Equal(t, 1, rows)
}

func TestMappingsAreSeparatedByKind(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	require.NoError(t, s.UpsertMessageMapping(models.KindPR, testRepo, 5, "c", "pr-msg", nil))
	m, err := s.GetMessageMapping(models.KindIssue, testRepo, 5)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = s.GetMessageMapping(models.Kind("discussion"), testRepo, 5)
	assert.Error(t, err)
}

func TestThreadTouchAndDelete(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	require.NoError(t, s.UpsertMessageMapping(models.KindIssue, testRepo, 8, "c", "m", nil))
	before, err := s.GetMessageMapping(models.KindIssue, testRepo, 8)
	require.NoError(t, err)

	require.NoError(t, s.UpdateThread(models.KindIssue, testRepo, 8, "th"))
	require.NoError(t, s.TouchTimestamp(models.KindIssue, testRepo, 8))
	after, err := s.GetMessageMapping(models.KindIssue, testRepo, 8)
	require.NoError(t, err)
	require.NotNil(t, after.ThreadID)
	assert.Equal(t, "th", *after.ThreadID)
	assert.True(t, after.LastUpdated.After(before.LastUpdated))

	require.NoError(t, s.DeleteMapping(models.KindIssue, testRepo, 8))
	gone, err := s.GetMessageMapping(models.KindIssue, testRepo, 8)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestPRSnapshotReplacedWholesale(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.UpsertPRSnapshot(models.PRSnapshot{
		Repo: testRepo, Number: 7, Title: "First", URL: "https://github.com/owner/repo/pull/7",
		Author: "alice", Branch: "feature", BaseBranch: "main", Additions: 10, Deletions: 2,
		ChangedFiles: 3, State: models.StateOpen, Draft: true, CreatedAt: created,
	}))
	require.NoError(t, s.UpsertPRSnapshot(models.PRSnapshot{
		Repo: testRepo, Number: 7, Title: "Second", State: models.StateMerged, CreatedAt: created,
	}))

	snap, err := s.GetPRSnapshot(testRepo, 7)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "Second", snap.Title)
	assert.Equal(t, models.StateMerged, snap.State)
	assert.Empty(t, snap.Author)
	assert.Zero(t, snap.Additions)
	assert.False(t, snap.Draft)
	assert.True(t, created.Equal(snap.CreatedAt))

	missing, err := s.GetPRSnapshot(testRepo, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIssueSnapshotLabels(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	require.NoError(t, s.UpsertIssueSnapshot(models.IssueSnapshot{
		Repo: testRepo, Number: 3, Title: "Bug", Labels: []string{"bug", "p1"},
		State: models.StateClosed, StateReason: "not_planned",
	}))

	snap, err := s.GetIssueSnapshot(testRepo, 3)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, []string{"bug", "p1"}, snap.Labels)
	assert.Equal(t, "not_planned", snap.StateReason)

	require.NoError(t, s.UpsertIssueSnapshot(models.IssueSnapshot{Repo: testRepo, Number: 4, State: models.StateOpen}))
	snap, err = s.GetIssueSnapshot(testRepo, 4)
	require.NoError(t, err)
	assert.Empty(t, snap.Labels)
}

func TestListOpenEntityNumbers(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	for _, snap := range []models.PRSnapshot{
		{Repo: testRepo, Number: 12, State: models.StateOpen, Branch: "a"},
		{Repo: testRepo, Number: 3, State: models.StateOpen, Branch: "b"},
		{Repo: testRepo, Number: 8, State: models.StateMerged, Branch: "a"},
		{Repo: testRepo, Number: 5, State: models.StateOpen, Branch: "a"},
	} {
		require.NoError(t, s.UpsertPRSnapshot(snap))
	}
	require.NoError(t, s.UpsertIssueSnapshot(models.IssueSnapshot{Repo: testRepo, Number: 1, State: models.StateOpen}))

	numbers, err := s.ListOpenEntityNumbers(models.KindPR, testRepo)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5, 12}, numbers)

	numbers, err = s.ListOpenEntityNumbers(models.KindIssue, testRepo)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, numbers)

	numbers, err = s.ListOpenPRsByBranch(testRepo, "a")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 12}, numbers)
}

func TestStatusUpdatesCreateRowLazily(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	st, err := s.GetStatus(testRepo, 7)
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, s.UpdateCIStatus(testRepo, 7, models.CIRunning, "build", "https://ci/1"))
	require.NoError(t, s.UpdateCIStatus(testRepo, 7, models.CISuccess, "", ""))
	require.NoError(t, s.UpdateReviewerStatus(testRepo, 7, models.ReviewerReviewed, intPtr(2)))
	require.NoError(t, s.UpdateReviewerStatus(testRepo, 7, models.ReviewerReviewed, nil))
	require.NoError(t, s.UpdateAgentStatus(testRepo, 7, models.AgentChangesRequested))
	require.NoError(t, s.EnsureStatusRow(testRepo, 7))

	st, err = s.GetStatus(testRepo, 7)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, models.CISuccess, st.CIStatus)
	assert.Equal(t, "build", st.CIWorkflow)
	assert.Equal(t, "https://ci/1", st.CIURL)
	assert.Equal(t, models.ReviewerReviewed, st.ReviewerStatus)
	assert.Equal(t, 2, st.ReviewerComments)
	assert.Equal(t, models.AgentChangesRequested, st.AgentStatus)
}

func TestStatusRejectsUnknownValues(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	assert.Error(t, s.UpdateCIStatus(testRepo, 1, models.CIStatus("exploded"), "", ""))
	assert.Error(t, s.UpdateAgentStatus(testRepo, 1, models.AgentStatus("maybe")))
	assert.Error(t, s.UpdateReviewerStatus(testRepo, 1, models.ReviewerStatus("skimmed"), nil))

	st, err := s.GetStatus(testRepo, 1)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestAppendAuditLog(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	s.AppendAuditLog(testRepo, intPtr(7), "pull_request", map[string]any{"action": "opened"})
	s.AppendAuditLog(testRepo, nil, "push", map[string]any{"ref": "refs/heads/main"})

	entries, err := s.RecentAuditLog(testRepo, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "push", entries[0].EventType)
	assert.Nil(t, entries[0].EntityNumber)
	assert.Equal(t, "pull_request", entries[1].EventType)
	require.NotNil(t, entries[1].EntityNumber)
	assert.Equal(t, 7, *entries[1].EntityNumber)
	assert.JSONEq(t, `{"action":"opened"}`, entries[1].PayloadJSON)
}

func TestAppendAuditLogNeverPanicsOnBadPayload(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := openTestStore(t, t.TempDir(), WithLogger(logger))

	s.AppendAuditLog(testRepo, nil, "weird", map[string]any{"ch": make(chan int)})

	require.NotNil(t, hook.LastEntry())
	entries, err := s.RecentAuditLog(testRepo, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
