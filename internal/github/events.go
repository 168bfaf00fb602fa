package github

import (
	"errors"
	"fmt"

	gh "github.com/google/go-github/v45/github"
	"github.com/tidwall/gjson"

	"github.com/esnunes/hookrelay/internal/models"
)

// Event is one inbound webhook delivery, tagged by its event name.
type Event struct {
	Name   string
	Action string
	Repo   string
	// DeliveryID is the X-GitHub-Delivery header, empty when the event did
	// not come through the webhook endpoint.
	DeliveryID string
	// Number is the PR or issue the event is about, 0 otherwise.
	Number  int
	Payload []byte
	Raw     gjson.Result
	// Typed holds the decoded go-github struct for events handled through
	// typed fields (pull_request, pull_request_review, issues,
	// workflow_run); nil otherwise.
	Typed any
}

var typedEvents = map[string]bool{
	"pull_request":        true,
	"pull_request_review": true,
	"issues":              true,
	"workflow_run":        true,
}

// ParseEvent decodes a delivery. Unknown event names parse successfully with
// no Typed value so the audit trail still records them.
func ParseEvent(name string, payload []byte) (*Event, error) {
	if name == "" {
		return nil, errors.New("missing event name")
	}
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("parsing %s payload: invalid JSON", name)
	}
	raw := gjson.ParseBytes(payload)
	ev := &Event{
		Name:    name,
		Action:  raw.Get("action").String(),
		Repo:    raw.Get("repository.full_name").String(),
		Payload: payload,
		Raw:     raw,
	}
	if ev.Repo == "" {
		return nil, fmt.Errorf("parsing %s payload: no repository.full_name", name)
	}

	switch name {
	case "pull_request", "pull_request_review":
		ev.Number = int(raw.Get("pull_request.number").Int())
	case "issues", "issue_comment":
		ev.Number = int(raw.Get("issue.number").Int())
	}

	if typedEvents[name] {
		typed, err := gh.ParseWebHook(name, payload)
		if err != nil {
			return nil, fmt.Errorf("parsing %s payload: %w", name, err)
		}
		ev.Typed = typed
	}
	return ev, nil
}

// PRSnapshot converts a webhook pull request into the stored snapshot.
func PRSnapshot(repoName string, pr *gh.PullRequest) models.PRSnapshot {
	state := pr.GetState()
	if pr.GetMerged() {
		state = models.StateMerged
	}
	return models.PRSnapshot{
		Repo:         repoName,
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		URL:          pr.GetHTMLURL(),
		Author:       pr.GetUser().GetLogin(),
		Branch:       pr.GetHead().GetRef(),
		BaseBranch:   pr.GetBase().GetRef(),
		HeadSHA:      pr.GetHead().GetSHA(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		State:        state,
		Draft:        pr.GetDraft(),
		CreatedAt:    pr.GetCreatedAt(),
	}
}

// IssueSnapshot converts an issues event into the stored snapshot.
func IssueSnapshot(ev *Event, issue *gh.Issue) models.IssueSnapshot {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return models.IssueSnapshot{
		Repo:        ev.Repo,
		Number:      issue.GetNumber(),
		Title:       issue.GetTitle(),
		URL:         issue.GetHTMLURL(),
		Author:      issue.GetUser().GetLogin(),
		Labels:      labels,
		State:       issue.GetState(),
		StateReason: ev.Raw.Get("issue.state_reason").String(),
		CreatedAt:   issue.GetCreatedAt(),
	}
}
