package handler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/esnunes/hookrelay/internal/chat"
	"github.com/esnunes/hookrelay/internal/chat/chattest"
	"github.com/esnunes/hookrelay/internal/db"
	"github.com/esnunes/hookrelay/internal/footer"
	"github.com/esnunes/hookrelay/internal/github"
	"github.com/esnunes/hookrelay/internal/models"
	"github.com/esnunes/hookrelay/internal/retry"
)

const testRepo = "owner/repo"

type fakeGitHub struct {
	prs      map[int]models.PRSnapshot
	prErrs   map[int]error
	comments map[int64]int
	steps    []github.FailedStep

	prCalls int
}

func (f *fakeGitHub) FailedSteps(context.Context, string, int64) ([]github.FailedStep, error) {
	return f.steps, nil
}

func (f *fakeGitHub) ReviewCommentCount(_ context.Context, _ string, _ int, reviewID int64) (int, error) {
	return f.comments[reviewID], nil
}

func (f *fakeGitHub) GetPullRequest(_ context.Context, _ string, number int) (models.PRSnapshot, error) {
	f.prCalls++
	if err := f.prErrs[number]; err != nil {
		return models.PRSnapshot{}, err
	}
	snap, ok := f.prs[number]
	if !ok {
		return models.PRSnapshot{}, &github.APIError{StatusCode: 404, Message: "Not Found"}
	}
	return snap, nil
}

func tickingClock() func() time.Time {
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

type fixture struct {
	h     *Handler
	store *db.Store
	ch    *chattest.Channel
	gh    *fakeGitHub
	hook  *test.Hook
}

func newFixture(t *testing.T, ch *chattest.Channel, gh *fakeGitHub) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	store, err := db.Open(testRepo, t.TempDir(), db.WithLogger(logger), db.WithClock(tickingClock()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if gh == nil {
		gh = &fakeGitHub{}
	}
	policy := retry.Policy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	}
	h := New(store, ch, gh, Config{
		ReviewerLogin: "reviewer-bot",
		AgentLogin:    "agent-bot",
		Policy:        policy,
		Logger:        logger,
	})
	return &fixture{h: h, store: store, ch: ch, gh: gh, hook: hook}
}

func (f *fixture) handle(t *testing.T, name, payload string) error {
	t.Helper()
	ev, err := github.ParseEvent(name, []byte(payload))
	require.NoError(t, err)
	return f.h.Handle(context.Background(), ev)
}

func (f *fixture) mapping(t *testing.T, kind models.Kind, number int) *models.MessageMapping {
	t.Helper()
	m, err := f.store.GetMessageMapping(kind, testRepo, number)
	require.NoError(t, err)
	return m
}

func (f *fixture) status(t *testing.T, number int) *models.PRStatus {
	t.Helper()
	st, err := f.store.GetStatus(testRepo, number)
	require.NoError(t, err)
	return st
}

const repository = `"repository":{"full_name":"owner/repo","default_branch":"main"}`

func prPayload(action string, number int, state string, merged bool, branch string) string {
	return fmt.Sprintf(`{"action":%q,"number":%d,"pull_request":{"number":%d,"title":"Change %d",
"html_url":"https://github.com/owner/repo/pull/%d","state":%q,"merged":%t,"draft":false,
"additions":5,"deletions":1,"changed_files":2,"created_at":"2025-02-01T10:00:00Z",
"user":{"login":"alice"},"head":{"ref":%q,"sha":"abcdef1234567"},"base":{"ref":"main"}},
"sender":{"login":"alice"},%s}`, action, number, number, number, number, state, merged, branch, repository)
}

func workflowPayload(status, conclusion, branch string, prs ...int) string {
	refs := make([]string, 0, len(prs))
	for _, n := range prs {
		refs = append(refs, fmt.Sprintf(`{"number":%d}`, n))
	}
	return fmt.Sprintf(`{"action":"completed","workflow_run":{"id":99,"name":"build","head_branch":%q,
"status":%q,"conclusion":%q,"html_url":"https://github.com/owner/repo/actions/runs/99",
"pull_requests":[%s]},%s}`, branch, status, conclusion, strings.Join(refs, ","), repository)
}

func reviewPayload(action, login, state string, number int) string {
	return fmt.Sprintf(`{"action":%q,"review":{"id":55,"user":{"login":%q},"state":%q,"body":"Looks fine"},
"pull_request":{"number":%d,"title":"Change %d","html_url":"https://github.com/owner/repo/pull/%d"},%s}`,
		action, login, state, number, number, number, repository)
}

func issuePayload(action string, number int, state, reason string) string {
	return fmt.Sprintf(`{"action":%q,"issue":{"number":%d,"title":"Bug %d",
"html_url":"https://github.com/owner/repo/issues/%d","state":%q,"state_reason":%q,
"user":{"login":"bob"},"labels":[{"name":"bug"}]},"sender":{"login":"bob"},%s}`,
		action, number, number, number, state, reason, repository)
}

func TestPullRequestOpenedPostsMessage(t *testing.T) {
	f := newFixture(t, chattest.NewChannel("chan"), nil)

	require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 7, "open", false, "feature")))

	m := f.mapping(t, models.KindPR, 7)
	require.NotNil(t, m)
	assert.Equal(t, "m1", m.MessageID)
	assert.Equal(t, "chan", m.ChannelID)
	assert.Nil(t, m.ThreadID)

	snap, err := f.store.GetPRSnapshot(testRepo, 7)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "Change 7", snap.Title)
	assert.Nil(t, f.status(t, 7))

	msgs := f.ch.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "PR #7: Change 7", msgs[0].Artifacts[0].Title)

	entries, err := f.store.RecentAuditLog(testRepo, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pull_request", entries[0].EventType)
	require.NotNil(t, entries[0].EntityNumber)
	assert.Equal(t, 7, *entries[0].EntityNumber)
	assert.NotEmpty(t, gjson.Get(entries[0].PayloadJSON, "delivery_id").String())
	assert.Equal(t, "opened", gjson.Get(entries[0].PayloadJSON, "payload.action").String())
}

func TestCICompletionUpdatesExistingMessage(t *testing.T) {
	f := newFixture(t, chattest.NewChannel("chan"), nil)
	require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 7, "open", false, "feature")))
	before := f.mapping(t, models.KindPR, 7)
	historyCalls := f.ch.HistoryCalls

	require.NoError(t, f.handle(t, "workflow_run", workflowPayload("completed", "success", "feature", 7)))

	assert.Equal(t, historyCalls, f.ch.HistoryCalls, "fast path must not search history")
	assert.Equal(t, 1, f.ch.EditCalls)
	assert.Len(t, f.ch.Messages(), 1)

	st := f.status(t, 7)
	require.NotNil(t, st)
	assert.Equal(t, models.CISuccess, st.CIStatus)
	assert.Equal(t, "build", st.CIWorkflow)

	msg := f.ch.Message("m1")
	require.NotNil(t, msg)
	snap := footer.Decode(msg.Artifacts[0].Footer)
	require.NotNil(t, snap)
	assert.Equal(t, models.CISuccess, snap.PR.CI)

	after := f.mapping(t, models.KindPR, 7)
	require.NotNil(t, after.ThreadID)
	assert.True(t, after.LastUpdated.After(before.LastUpdated))
	replies := f.ch.Replies(*after.ThreadID)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "passed")
}

func TestCICompletionRecoversAfterStoreLoss(t *testing.T) {
	ch := chattest.NewChannel("chan")
	gh := &fakeGitHub{comments: map[int64]int{55: 2}}
	first := newFixture(t, ch, gh)
	require.NoError(t, first.handle(t, "pull_request", prPayload("opened", 7, "open", false, "feature")))
	require.NoError(t, first.handle(t, "workflow_run", workflowPayload("in_progress", "", "feature", 7)))
	require.NoError(t, first.handle(t, "pull_request_review", reviewPayload("submitted", "reviewer-bot", "commented", 7)))
	snap, err := first.store.GetPRSnapshot(testRepo, 7)
	require.NoError(t, err)
	gh.prs = map[int]models.PRSnapshot{7: *snap}

	// A fresh store in another directory: nothing survived.
	second := newFixture(t, ch, gh)
	require.NoError(t, second.handle(t, "workflow_run", workflowPayload("completed", "success", "feature", 7)))

	assert.Len(t, ch.Messages(), 1, "the recovered message is edited, not reposted")
	m := second.mapping(t, models.KindPR, 7)
	require.NotNil(t, m)
	assert.Equal(t, "m1", m.MessageID)

	st := second.status(t, 7)
	require.NotNil(t, st)
	assert.Equal(t, models.CISuccess, st.CIStatus)
	assert.Equal(t, models.ReviewerReviewed, st.ReviewerStatus)
	assert.Equal(t, 2, st.ReviewerComments)
	assert.Equal(t, 1, gh.prCalls)

	require.NotNil(t, m.ThreadID)
	assert.Contains(t, ch.Replies(*m.ThreadID)[0], "passed")

	var recovered bool
	for _, e := range second.hook.AllEntries() {
		if e.Message == "Recovered message mapping from channel history" && e.Data["status_recovered"] == true {
			recovered = true
		}
	}
	assert.True(t, recovered)
}

func TestDeletedMessageIsReposted(t *testing.T) {
	f := newFixture(t, chattest.NewChannel("chan"), nil)
	require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 7, "open", false, "feature")))
	f.ch.Delete("m1")

	require.NoError(t, f.handle(t, "pull_request", prPayload("edited", 7, "open", false, "feature")))

	m := f.mapping(t, models.KindPR, 7)
	require.NotNil(t, m)
	assert.Equal(t, "m2", m.MessageID)
	require.Len(t, f.ch.Messages(), 1)

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["message_id"] == "m1" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestEditFailureOtherThanNotFoundPropagates(t *testing.T) {
	f := newFixture(t, chattest.NewChannel("chan"), nil)
	require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 7, "open", false, "feature")))
	f.ch.EditErrs = []error{&chat.APIError{StatusCode: 403, Code: 50013, Message: "Missing Permissions"}}

	err := f.handle(t, "pull_request", prPayload("edited", 7, "open", false, "feature"))
	require.Error(t, err)
	assert.Equal(t, 1, f.ch.EditCalls)

	m := f.mapping(t, models.KindPR, 7)
	require.NotNil(t, m)
	assert.Equal(t, "m1", m.MessageID)
	assert.Len(t, f.ch.Messages(), 1)
}

func TestEditRetriesServerErrors(t *testing.T) {
	f := newFixture(t, chattest.NewChannel("chan"), nil)
	require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 7, "open", false, "feature")))
	f.ch.EditErrs = []error{chattest.ServerError(), chattest.ServerError()}

	require.NoError(t, f.handle(t, "pull_request", prPayload("edited", 7, "open", false, "feature")))
	assert.Equal(t, 3, f.ch.EditCalls)
	assert.Equal(t, "m1", f.mapping(t, models.KindPR, 7).MessageID)
}

func TestPullRequestCloseArchivesAndReopenRestores(t *testing.T) {
	f := newFixture(t, chattest.NewChannel("chan"), nil)
	require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 7, "open", false, "feature")))

	require.NoError(t, f.handle(t, "pull_request", prPayload("closed", 7, "closed", true, "feature")))
	m := f.mapping(t, models.KindPR, 7)
	require.NotNil(t, m.ThreadID)
	th := f.ch.Thread(*m.ThreadID)
	require.NotNil(t, th)
	assert.True(t, th.Archived)
	assert.Contains(t, f.ch.Replies(*m.ThreadID)[0], "Merged by **alice**")

	require.NoError(t, f.handle(t, "pull_request", prPayload("reopened", 7, "open", false, "feature")))
	assert.False(t, f.ch.Thread(*m.ThreadID).Archived)
	assert.Len(t, f.ch.Replies(*m.ThreadID), 2)
	assert.Equal(t, 1, f.ch.StartThreadCalls)
}

func TestWorkflowRunFallsBackToBranch(t *testing.T) {
	f := newFixture(t, chattest.NewChannel("chan"), nil)
	require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 1, "open", false, "feature")))
	require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 2, "open", false, "feature")))
	require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 3, "open", false, "other")))

	require.NoError(t, f.handle(t, "workflow_run", workflowPayload("in_progress", "", "feature")))

	assert.Equal(t, models.CIRunning, f.status(t, 1).CIStatus)
	assert.Equal(t, models.CIRunning, f.status(t, 2).CIStatus)
	assert.Nil(t, f.status(t, 3))
}

func TestWorkflowRunIsolatesFailures(t *testing.T) {
	gh := &fakeGitHub{prErrs: map[int]error{9: &github.APIError{StatusCode: 500, Message: "boom"}}}
	f := newFixture(t, chattest.NewChannel("chan"), gh)
	require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 1, "open", false, "feature")))

	require.NoError(t, f.handle(t, "workflow_run", workflowPayload("completed", "failure", "feature", 9, 1)))

	st := f.status(t, 1)
	require.NotNil(t, st)
	assert.Equal(t, models.CIFailure, st.CIStatus)
	assert.Nil(t, f.mapping(t, models.KindPR, 9))

	var logged bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["number"] == 9 {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestWorkflowFailureListsFailedSteps(t *testing.T) {
	gh := &fakeGitHub{steps: []github.FailedStep{{Job: "test", Step: "go test"}}}
	f := newFixture(t, chattest.NewChannel("chan"), gh)
	require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 7, "open", false, "feature")))

	require.NoError(t, f.handle(t, "workflow_run", workflowPayload("completed", "failure", "feature", 7)))

	m := f.mapping(t, models.KindPR, 7)
	require.NotNil(t, m.ThreadID)
	replies := f.ch.Replies(*m.ThreadID)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "failed")
	assert.Contains(t, replies[0], "test › go test")
}

func TestPullRequestReviews(t *testing.T) {
	tests := []struct {
		name        string
		action      string
		login       string
		state       string
		wantAgent   models.AgentStatus
		wantReply   string
		wantNoReply bool
	}{
		{name: "agent approves", action: "submitted", login: "agent-bot", state: "approved", wantAgent: models.AgentApproved, wantReply: "approved"},
		{name: "agent requests changes", action: "submitted", login: "agent-bot", state: "changes_requested", wantAgent: models.AgentChangesRequested, wantReply: "requested changes"},
		{name: "agent comment is no verdict", action: "submitted", login: "agent-bot", state: "commented", wantNoReply: true},
		{name: "human review", action: "submitted", login: "carol", state: "approved", wantReply: "**carol** ✅ approved"},
		{name: "dismissal ignored", action: "dismissed", login: "carol", state: "dismissed", wantNoReply: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, chattest.NewChannel("chan"), nil)
			require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 7, "open", false, "feature")))

			require.NoError(t, f.handle(t, "pull_request_review", reviewPayload(tt.action, tt.login, tt.state, 7)))

			st := f.status(t, 7)
			if tt.wantAgent != "" {
				require.NotNil(t, st)
				assert.Equal(t, tt.wantAgent, st.AgentStatus)
			} else {
				assert.Nil(t, st)
			}

			m := f.mapping(t, models.KindPR, 7)
			if tt.wantNoReply {
				assert.Nil(t, m.ThreadID)
				return
			}
			require.NotNil(t, m.ThreadID)
			replies := f.ch.Replies(*m.ThreadID)
			require.Len(t, replies, 1)
			assert.Contains(t, replies[0], tt.wantReply)
		})
	}
}

func TestReviewerReviewRecordsCommentCount(t *testing.T) {
	gh := &fakeGitHub{comments: map[int64]int{55: 3}}
	f := newFixture(t, chattest.NewChannel("chan"), gh)
	require.NoError(t, f.handle(t, "pull_request", prPayload("opened", 7, "open", false, "feature")))

	require.NoError(t, f.handle(t, "pull_request_review", reviewPayload("submitted", "reviewer-bot", "commented", 7)))

	st := f.status(t, 7)
	require.NotNil(t, st)
	assert.Equal(t, models.ReviewerReviewed, st.ReviewerStatus)
	assert.Equal(t, 3, st.ReviewerComments)
	assert.Nil(t, f.mapping(t, models.KindPR, 7).ThreadID)
}

func TestIssueLifecycle(t *testing.T) {
	f := newFixture(t, chattest.NewChannel("chan"), nil)

	require.NoError(t, f.handle(t, "issues", issuePayload("opened", 3, "open", "")))
	m := f.mapping(t, models.KindIssue, 3)
	require.NotNil(t, m)
	assert.Equal(t, "Issue #3: Bug 3", f.ch.Message(m.MessageID).Artifacts[0].Title)
	assert.Nil(t, f.mapping(t, models.KindPR, 3))

	require.NoError(t, f.handle(t, "issues", issuePayload("closed", 3, "closed", "not_planned")))
	m = f.mapping(t, models.KindIssue, 3)
	require.NotNil(t, m.ThreadID)
	assert.True(t, f.ch.Thread(*m.ThreadID).Archived)
	assert.Contains(t, f.ch.Replies(*m.ThreadID)[0], "as not planned")

	require.NoError(t, f.handle(t, "issues", issuePayload("reopened", 3, "open", "reopened")))
	assert.False(t, f.ch.Thread(*m.ThreadID).Archived)
	assert.Len(t, f.ch.Messages(), 1)
}

func TestStandaloneNotices(t *testing.T) {
	tests := []struct {
		name      string
		event     string
		payload   string
		wantTitle string
	}{
		{
			name:  "push to default branch",
			event: "push",
			payload: `{"ref":"refs/heads/main","compare":"https://github.com/owner/repo/compare/a...b",
"commits":[{"id":"1111111aaaa","message":"Fix it\n\nbody","url":"u1","author":{"username":"alice"}},
{"id":"2222222bbbb","message":"Test it","url":"u2","author":{"username":"bob"}}],` + repository + `}`,
			wantTitle: "⬆️ 2 commits pushed to main",
		},
		{
			name:    "push to feature branch",
			event:   "push",
			payload: `{"ref":"refs/heads/feature","commits":[{"id":"1"}],` + repository + `}`,
		},
		{
			name:      "release published",
			event:     "release",
			payload:   `{"action":"published","release":{"tag_name":"v1.2.0","name":"","html_url":"r","author":{"login":"alice"}},` + repository + `}`,
			wantTitle: "🚀 Release v1.2.0",
		},
		{
			name:    "release drafted",
			event:   "release",
			payload: `{"action":"created","release":{"tag_name":"v1.2.0"},` + repository + `}`,
		},
		{
			name:      "deployment failed",
			event:     "deployment_status",
			payload:   `{"action":"created","deployment_status":{"state":"failure","environment":"production"},"deployment":{"ref":"main","sha":"abc"},` + repository + `}`,
			wantTitle: "📦 Deployment to production: failure",
		},
		{
			name:    "deployment in progress",
			event:   "deployment_status",
			payload: `{"action":"created","deployment_status":{"state":"in_progress","environment":"production"},` + repository + `}`,
		},
		{
			name:      "dependabot alert",
			event:     "dependabot_alert",
			payload:   `{"action":"created","alert":{"number":4,"security_advisory":{"summary":"ReDoS in parser","severity":"high"},"dependency":{"package":{"name":"left-pad"}}},` + repository + `}`,
			wantTitle: "🛡️ Dependabot alert #4: ReDoS in parser",
		},
		{
			name:      "code scanning alert",
			event:     "code_scanning_alert",
			payload:   `{"action":"reopened","alert":{"number":2,"rule":{"description":"SQL injection","severity":"error"},"tool":{"name":"CodeQL"}},` + repository + `}`,
			wantTitle: "🛡️ Code scanning alert #2: SQL injection",
		},
		{
			name:    "secret alert resolved",
			event:   "secret_scanning_alert",
			payload: `{"action":"resolved","alert":{"number":1,"secret_type":"github_token"},` + repository + `}`,
		},
		{
			name:      "secret alert created",
			event:     "secret_scanning_alert",
			payload:   `{"action":"created","alert":{"number":1,"secret_type":"github_token"},` + repository + `}`,
			wantTitle: "🔑 Secret scanning alert #1: github_token",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, chattest.NewChannel("chan"), nil)
			require.NoError(t, f.handle(t, tt.event, tt.payload))

			msgs := f.ch.Messages()
			if tt.wantTitle == "" {
				assert.Empty(t, msgs)
				return
			}
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.wantTitle, msgs[0].Artifacts[0].Title)
			assert.Empty(t, msgs[0].Artifacts[0].Footer)
		})
	}
}

func TestUnsupportedEventIsAuditedOnly(t *testing.T) {
	f := newFixture(t, chattest.NewChannel("chan"), nil)
	require.NoError(t, f.handle(t, "star", `{"action":"created",`+repository+`}`))

	assert.Empty(t, f.ch.Messages())
	entries, err := f.store.RecentAuditLog(testRepo, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "star", entries[0].EventType)
	assert.False(t, Supported("star"))
	assert.True(t, Supported("workflow_run"))
}

func TestAuditKeepsDeliveryID(t *testing.T) {
	tests := []struct {
		name     string
		delivery string
	}{
		{name: "webhook delivery", delivery: "72d3162e-cc78-11e3-81ab-4c9367dc0958"},
		{name: "no delivery header", delivery: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, chattest.NewChannel("chan"), nil)
			ev, err := github.ParseEvent("star", []byte(`{"action":"created",`+repository+`}`))
			require.NoError(t, err)
			ev.DeliveryID = tt.delivery
			require.NoError(t, f.h.Handle(context.Background(), ev))

			entries, err := f.store.RecentAuditLog(testRepo, 10)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			got := gjson.Get(entries[0].PayloadJSON, "delivery_id").String()
			if tt.delivery != "" {
				assert.Equal(t, tt.delivery, got)
			} else {
				assert.NotEmpty(t, got)
				assert.Equal(t, ev.DeliveryID, got)
			}
		})
	}
}

func TestCIStatusMapping(t *testing.T) {
	tests := []struct {
		status, conclusion string
		want               models.CIStatus
	}{
		{"queued", "", models.CIPending},
		{"in_progress", "", models.CIRunning},
		{"completed", "success", models.CISuccess},
		{"completed", "skipped", models.CISuccess},
		{"completed", "failure", models.CIFailure},
		{"completed", "timed_out", models.CIFailure},
		{"completed", "cancelled", models.CICancelled},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ciStatus(tt.status, tt.conclusion), "%s/%s", tt.status, tt.conclusion)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	f := newFixture(t, chattest.NewChannel("chan"), nil)
	f.ch.SendErrs = []error{chattest.ServerError()}

	require.NoError(t, f.handle(t, "issues", issuePayload("opened", 3, "open", "")))
	assert.Equal(t, 2, f.ch.SendCalls)
	require.NotNil(t, f.mapping(t, models.KindIssue, 3))
}
