package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/esnunes/hookrelay/internal/chat"
	"github.com/esnunes/hookrelay/internal/github"
	"github.com/esnunes/hookrelay/internal/render"
)

// maxPushCommits caps the commit list of a push notice.
const maxPushCommits = 10

func handleRelease(h *Handler, ctx context.Context, ev *github.Event, logger log.FieldLogger) error {
	if ev.Action != "published" {
		return nil
	}
	rel := ev.Raw.Get("release")
	title := rel.Get("name").String()
	if title == "" {
		title = rel.Get("tag_name").String()
	}
	n := render.Notice{
		Title:       fmt.Sprintf("🚀 Release %s", title),
		URL:         rel.Get("html_url").String(),
		Description: firstLines(strings.TrimSpace(rel.Get("body").String()), 15),
		Fields: []chat.Field{
			{Name: "Tag", Value: rel.Get("tag_name").String(), Inline: true},
			{Name: "Author", Value: rel.Get("author.login").String(), Inline: true},
		},
		Timestamp: parseTimestamp(rel.Get("published_at")),
	}
	if rel.Get("prerelease").Bool() {
		n.Fields = append(n.Fields, chat.Field{Name: "Pre-release", Value: "yes", Inline: true})
	}
	return h.announce(ctx, n.Artifact(), logger)
}

func handleDeploymentStatus(h *Handler, ctx context.Context, ev *github.Event, logger log.FieldLogger) error {
	st := ev.Raw.Get("deployment_status")
	state := st.Get("state").String()
	switch state {
	case "success", "failure", "error":
	default:
		logger.WithField("state", state).Debug("Ignoring intermediate deployment state")
		return nil
	}
	env := st.Get("environment").String()
	if env == "" {
		env = ev.Raw.Get("deployment.environment").String()
	}
	url := st.Get("environment_url").String()
	if url == "" {
		url = st.Get("target_url").String()
	}
	n := render.Notice{
		Title:   fmt.Sprintf("📦 Deployment to %s: %s", env, state),
		URL:     url,
		Warning: state != "success",
		Fields: []chat.Field{
			{Name: "Ref", Value: fmt.Sprintf("`%s`", ev.Raw.Get("deployment.ref").String()), Inline: true},
			{Name: "Commit", Value: fmt.Sprintf("`%s`", shortSHA(ev.Raw.Get("deployment.sha").String())), Inline: true},
		},
		Description: st.Get("description").String(),
		Timestamp:   parseTimestamp(st.Get("created_at")),
	}
	return h.announce(ctx, n.Artifact(), logger)
}

func handlePush(h *Handler, ctx context.Context, ev *github.Event, logger log.FieldLogger) error {
	branch := ev.Raw.Get("repository.default_branch").String()
	if ev.Raw.Get("ref").String() != "refs/heads/"+branch {
		logger.Debug("Ignoring push outside the default branch")
		return nil
	}
	commits := ev.Raw.Get("commits").Array()
	if len(commits) == 0 {
		return nil
	}

	var b strings.Builder
	for i, c := range commits {
		if i == maxPushCommits {
			fmt.Fprintf(&b, "\n… and %d more", len(commits)-maxPushCommits)
			break
		}
		if i > 0 {
			b.WriteString("\n")
		}
		msg, _, _ := strings.Cut(c.Get("message").String(), "\n")
		fmt.Fprintf(&b, "[`%s`](%s) %s (%s)", shortSHA(c.Get("id").String()), c.Get("url").String(), msg, c.Get("author.username").String())
	}
	noun := "commits"
	if len(commits) == 1 {
		noun = "commit"
	}
	n := render.Notice{
		Title:       fmt.Sprintf("⬆️ %d %s pushed to %s", len(commits), noun, branch),
		URL:         ev.Raw.Get("compare").String(),
		Description: b.String(),
		Timestamp:   parseTimestamp(ev.Raw.Get("head_commit.timestamp")),
	}
	return h.announce(ctx, n.Artifact(), logger)
}

// alertActions are the alert transitions worth a notice.
var alertActions = map[string]bool{"created": true, "reopened": true}

func handleCodeScanningAlert(h *Handler, ctx context.Context, ev *github.Event, logger log.FieldLogger) error {
	if !alertActions[ev.Action] {
		return nil
	}
	alert := ev.Raw.Get("alert")
	severity := alert.Get("rule.security_severity_level").String()
	if severity == "" {
		severity = alert.Get("rule.severity").String()
	}
	n := render.Notice{
		Title:       fmt.Sprintf("🛡️ Code scanning alert #%d: %s", alert.Get("number").Int(), alert.Get("rule.description").String()),
		URL:         alert.Get("html_url").String(),
		Description: alert.Get("most_recent_instance.location.path").String(),
		Warning:     true,
		Fields: []chat.Field{
			{Name: "Severity", Value: severity, Inline: true},
			{Name: "Tool", Value: alert.Get("tool.name").String(), Inline: true},
		},
		Timestamp: parseTimestamp(alert.Get("created_at")),
	}
	return h.announce(ctx, n.Artifact(), logger)
}

func handleDependabotAlert(h *Handler, ctx context.Context, ev *github.Event, logger log.FieldLogger) error {
	if !alertActions[ev.Action] {
		return nil
	}
	alert := ev.Raw.Get("alert")
	n := render.Notice{
		Title:       fmt.Sprintf("🛡️ Dependabot alert #%d: %s", alert.Get("number").Int(), alert.Get("security_advisory.summary").String()),
		URL:         alert.Get("html_url").String(),
		Description: alert.Get("dependency.manifest_path").String(),
		Warning:     true,
		Fields: []chat.Field{
			{Name: "Package", Value: alert.Get("dependency.package.name").String(), Inline: true},
			{Name: "Severity", Value: alert.Get("security_advisory.severity").String(), Inline: true},
		},
		Timestamp: parseTimestamp(alert.Get("created_at")),
	}
	return h.announce(ctx, n.Artifact(), logger)
}

func handleSecretScanningAlert(h *Handler, ctx context.Context, ev *github.Event, logger log.FieldLogger) error {
	if !alertActions[ev.Action] {
		return nil
	}
	alert := ev.Raw.Get("alert")
	secretType := alert.Get("secret_type_display_name").String()
	if secretType == "" {
		secretType = alert.Get("secret_type").String()
	}
	n := render.Notice{
		Title:     fmt.Sprintf("🔑 Secret scanning alert #%d: %s", alert.Get("number").Int(), secretType),
		URL:       alert.Get("html_url").String(),
		Warning:   true,
		Timestamp: parseTimestamp(alert.Get("created_at")),
	}
	return h.announce(ctx, n.Artifact(), logger)
}

func parseTimestamp(v gjson.Result) time.Time {
	t, err := time.Parse(time.RFC3339, v.String())
	if err != nil {
		return time.Time{}
	}
	return t
}
