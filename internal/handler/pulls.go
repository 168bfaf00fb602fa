package handler

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v45/github"
	log "github.com/sirupsen/logrus"

	"github.com/esnunes/hookrelay/internal/github"
	"github.com/esnunes/hookrelay/internal/models"
	"github.com/esnunes/hookrelay/internal/render"
)

func handlePullRequest(h *Handler, ctx context.Context, ev *github.Event, logger log.FieldLogger) error {
	e, ok := ev.Typed.(*gh.PullRequestEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", ev.Typed)
	}
	snap := github.PRSnapshot(ev.Repo, e.GetPullRequest())
	if err := h.store.UpsertPRSnapshot(snap); err != nil {
		return err
	}

	m, err := h.RefreshPR(ctx, ev.Repo, snap.Number)
	if err != nil {
		return err
	}

	text, archive := pullRequestReply(ev.Action, snap, e.GetSender().GetLogin())
	if text == "" {
		return nil
	}
	return h.ReplyPR(ctx, m, snap, text, archive)
}

func pullRequestReply(action string, snap models.PRSnapshot, sender string) (string, bool) {
	switch action {
	case "closed":
		if snap.State == models.StateMerged {
			return fmt.Sprintf("🟣 Merged by **%s**", sender), true
		}
		return fmt.Sprintf("🔴 Closed by **%s**", sender), true
	case "reopened":
		return fmt.Sprintf("🟢 Reopened by **%s**", sender), false
	case "synchronize":
		return fmt.Sprintf("⬆️ New commits pushed, head is now `%s`", shortSHA(snap.HeadSHA)), false
	case "ready_for_review":
		return "👀 Ready for review", false
	case "converted_to_draft":
		return "📝 Converted to draft", false
	}
	return "", false
}

// RefreshPR re-renders a PR message from the stored snapshot and status.
func (h *Handler) RefreshPR(ctx context.Context, repoName string, number int) (*models.MessageMapping, error) {
	snap, err := h.prSnapshot(ctx, repoName, number)
	if err != nil {
		return nil, err
	}
	st, err := h.store.GetStatus(repoName, number)
	if err != nil {
		return nil, err
	}
	return h.publish(ctx, models.KindPR, repoName, number, render.PR(snap, st))
}

// ReplyPR posts text to the PR's thread, archiving the thread after when
// archive is set.
func (h *Handler) ReplyPR(ctx context.Context, m *models.MessageMapping, snap models.PRSnapshot, text string, archive bool) error {
	return h.reply(ctx, models.KindPR, m, render.ThreadName(models.KindPR, snap.Number, snap.Title), text, archive)
}

// prSnapshot loads the stored snapshot, fetching and storing it from GitHub
// when the store has lost it.
func (h *Handler) prSnapshot(ctx context.Context, repoName string, number int) (models.PRSnapshot, error) {
	snap, err := h.store.GetPRSnapshot(repoName, number)
	if err != nil {
		return models.PRSnapshot{}, err
	}
	if snap != nil {
		return *snap, nil
	}
	if h.github == nil {
		return models.PRSnapshot{}, fmt.Errorf("no snapshot stored for PR #%d", number)
	}
	fresh, err := h.github.GetPullRequest(ctx, repoName, number)
	if err != nil {
		return models.PRSnapshot{}, err
	}
	if err := h.store.UpsertPRSnapshot(fresh); err != nil {
		return models.PRSnapshot{}, err
	}
	return fresh, nil
}

func handlePullRequestReview(h *Handler, ctx context.Context, ev *github.Event, logger log.FieldLogger) error {
	e, ok := ev.Typed.(*gh.PullRequestReviewEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", ev.Typed)
	}
	if ev.Action != "submitted" {
		logger.Debug("Ignoring review action")
		return nil
	}
	review := e.GetReview()
	login := review.GetUser().GetLogin()
	state := strings.ToLower(review.GetState())
	number := e.GetPullRequest().GetNumber()

	// Recover before writing so a replayed footer cannot overwrite the
	// status this event carries.
	if _, err := h.Resolve(ctx, models.KindPR, ev.Repo, number); err != nil {
		return err
	}

	switch {
	case login == h.cfg.ReviewerLogin:
		var comments *int
		if h.github != nil {
			n, err := h.github.ReviewCommentCount(ctx, ev.Repo, number, review.GetID())
			if err != nil {
				logger.WithError(err).Warn("Could not count review comments")
			} else {
				comments = &n
			}
		}
		if err := h.store.UpdateReviewerStatus(ev.Repo, number, models.ReviewerReviewed, comments); err != nil {
			return err
		}
		_, err := h.RefreshPR(ctx, ev.Repo, number)
		return err

	case h.cfg.AgentLogin != "" && login == h.cfg.AgentLogin:
		verdict := agentVerdict(state)
		if verdict == "" {
			logger.WithField("state", state).Debug("Agent review carries no verdict")
			return nil
		}
		if err := h.store.UpdateAgentStatus(ev.Repo, number, verdict); err != nil {
			return err
		}
		m, err := h.RefreshPR(ctx, ev.Repo, number)
		if err != nil {
			return err
		}
		snap, err := h.prSnapshot(ctx, ev.Repo, number)
		if err != nil {
			return err
		}
		return h.ReplyPR(ctx, m, snap, AgentVerdictText(login, verdict), false)

	default:
		m, err := h.RefreshPR(ctx, ev.Repo, number)
		if err != nil {
			return err
		}
		snap, err := h.prSnapshot(ctx, ev.Repo, number)
		if err != nil {
			return err
		}
		return h.ReplyPR(ctx, m, snap, humanReviewText(login, state, review.GetBody()), false)
	}
}

func agentVerdict(state string) models.AgentStatus {
	switch state {
	case "approved":
		return models.AgentApproved
	case "changes_requested":
		return models.AgentChangesRequested
	}
	return ""
}

// AgentVerdictText is the thread reply announcing an agent verdict.
func AgentVerdictText(login string, verdict models.AgentStatus) string {
	switch verdict {
	case models.AgentApproved:
		return fmt.Sprintf("🤖 **%s** approved", login)
	case models.AgentChangesRequested:
		return fmt.Sprintf("🤖 **%s** requested changes", login)
	}
	return fmt.Sprintf("🤖 Review by **%s** was dismissed", login)
}

func humanReviewText(login, state, body string) string {
	var verb string
	switch state {
	case "approved":
		verb = "✅ approved"
	case "changes_requested":
		verb = "❌ requested changes"
	default:
		verb = "💬 commented"
	}
	text := fmt.Sprintf("**%s** %s", login, verb)
	if body = strings.TrimSpace(body); body != "" {
		text += "\n> " + strings.ReplaceAll(firstLines(body, 5), "\n", "\n> ")
	}
	return text
}

func handleWorkflowRun(h *Handler, ctx context.Context, ev *github.Event, logger log.FieldLogger) error {
	e, ok := ev.Typed.(*gh.WorkflowRunEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", ev.Typed)
	}
	run := e.GetWorkflowRun()

	var numbers []int
	for _, pr := range run.PullRequests {
		numbers = append(numbers, pr.GetNumber())
	}
	if len(numbers) == 0 && run.GetHeadBranch() != "" {
		// Runs from forks carry no PR list.
		byBranch, err := h.store.ListOpenPRsByBranch(ev.Repo, run.GetHeadBranch())
		if err != nil {
			return err
		}
		numbers = byBranch
	}
	if len(numbers) == 0 {
		logger.WithField("branch", run.GetHeadBranch()).Debug("Workflow run has no associated PR")
		return nil
	}

	status := ciStatus(run.GetStatus(), run.GetConclusion())
	for _, number := range numbers {
		prLogger := logger.WithField("number", number)
		if err := h.applyWorkflowRun(ctx, ev.Repo, number, run, status, prLogger); err != nil {
			prLogger.WithError(err).Error("Failed to apply workflow run to PR")
		}
	}
	return nil
}

func (h *Handler) applyWorkflowRun(ctx context.Context, repoName string, number int, run *gh.WorkflowRun, status models.CIStatus, logger log.FieldLogger) error {
	if _, err := h.Resolve(ctx, models.KindPR, repoName, number); err != nil {
		return err
	}
	if err := h.store.UpdateCIStatus(repoName, number, status, run.GetName(), run.GetHTMLURL()); err != nil {
		return err
	}
	m, err := h.RefreshPR(ctx, repoName, number)
	if err != nil {
		return err
	}
	if run.GetStatus() != "completed" {
		return nil
	}

	var steps []github.FailedStep
	if status == models.CIFailure && h.github != nil {
		steps, err = h.github.FailedSteps(ctx, repoName, run.GetID())
		if err != nil {
			logger.WithError(err).Warn("Could not list failed steps")
		}
	}
	snap, err := h.prSnapshot(ctx, repoName, number)
	if err != nil {
		return err
	}
	return h.ReplyPR(ctx, m, snap, ciReplyText(run, status, steps), false)
}

func ciStatus(status, conclusion string) models.CIStatus {
	switch status {
	case "completed":
	case "in_progress":
		return models.CIRunning
	default:
		return models.CIPending
	}
	switch conclusion {
	case "success", "neutral", "skipped":
		return models.CISuccess
	case "cancelled", "stale":
		return models.CICancelled
	}
	return models.CIFailure
}

func ciReplyText(run *gh.WorkflowRun, status models.CIStatus, steps []github.FailedStep) string {
	name := run.GetName()
	if run.GetHTMLURL() != "" {
		name = fmt.Sprintf("[%s](%s)", name, run.GetHTMLURL())
	}
	var b strings.Builder
	switch status {
	case models.CISuccess:
		fmt.Fprintf(&b, "✅ CI %s passed", name)
	case models.CICancelled:
		fmt.Fprintf(&b, "⚪ CI %s was cancelled", name)
	default:
		fmt.Fprintf(&b, "❌ CI %s failed", name)
	}
	for _, s := range steps {
		fmt.Fprintf(&b, "\n• %s › %s", s.Job, s.Step)
	}
	return b.String()
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = append(lines[:n], "…")
	}
	return strings.Join(lines, "\n")
}
