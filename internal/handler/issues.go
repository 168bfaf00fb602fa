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

func handleIssues(h *Handler, ctx context.Context, ev *github.Event, logger log.FieldLogger) error {
	e, ok := ev.Typed.(*gh.IssuesEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", ev.Typed)
	}
	snap := github.IssueSnapshot(ev, e.GetIssue())
	if err := h.store.UpsertIssueSnapshot(snap); err != nil {
		return err
	}

	m, err := h.publish(ctx, models.KindIssue, ev.Repo, snap.Number, render.Issue(snap))
	if err != nil {
		return err
	}

	var text string
	archive := false
	sender := e.GetSender().GetLogin()
	switch ev.Action {
	case "closed":
		text = fmt.Sprintf("🔴 Closed by **%s**", sender)
		if snap.StateReason != "" {
			text += fmt.Sprintf(" as %s", strings.ReplaceAll(snap.StateReason, "_", " "))
		}
		archive = true
	case "reopened":
		text = fmt.Sprintf("🟢 Reopened by **%s**", sender)
	default:
		return nil
	}
	name := render.ThreadName(models.KindIssue, snap.Number, snap.Title)
	return h.reply(ctx, models.KindIssue, m, name, text, archive)
}
