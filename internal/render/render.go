// Package render turns snapshots and status into chat artifacts.
//
// Two conventions here are load-bearing for recovery: titles start with
// "<marker> #<number>: " and entity messages carry footer metadata.
package render

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/esnunes/hookrelay/internal/chat"
	"github.com/esnunes/hookrelay/internal/footer"
	"github.com/esnunes/hookrelay/internal/models"
)

const (
	MarkerPR    = "PR"
	MarkerIssue = "Issue"
)

const (
	colorOpen    = 0x2ecc71
	colorDraft   = 0x95a5a6
	colorMerged  = 0x8e44ad
	colorClosed  = 0xe74c3c
	colorInfo    = 0x3498db
	colorWarning = 0xf39c12
)

// TitlePattern matches titles produced for kind and captures the number.
func TitlePattern(kind models.Kind) *regexp.Regexp {
	marker := MarkerPR
	if kind == models.KindIssue {
		marker = MarkerIssue
	}
	return regexp.MustCompile(`^` + regexp.QuoteMeta(marker) + ` #(\d+):`)
}

func PR(snap models.PRSnapshot, st *models.PRStatus) chat.Artifact {
	a := chat.Artifact{
		Title:     fmt.Sprintf("%s #%d: %s", MarkerPR, snap.Number, snap.Title),
		URL:       snap.URL,
		Color:     prColor(snap),
		Footer:    footer.Encode(footer.FromStatus(st)),
		Timestamp: snap.CreatedAt,
	}
	var desc strings.Builder
	fmt.Fprintf(&desc, "by **%s**", snap.Author)
	if snap.Branch != "" {
		fmt.Fprintf(&desc, " · `%s` → `%s`", snap.Branch, snap.BaseBranch)
	}
	a.Description = desc.String()

	a.Fields = append(a.Fields,
		chat.Field{Name: "State", Value: prState(snap), Inline: true},
		chat.Field{Name: "Changes", Value: fmt.Sprintf("+%d −%d in %d files", snap.Additions, snap.Deletions, snap.ChangedFiles), Inline: true},
	)
	if st != nil {
		ci := string(st.CIStatus)
		if st.CIWorkflow != "" {
			ci = fmt.Sprintf("%s (%s)", ci, st.CIWorkflow)
		}
		if st.CIURL != "" {
			ci = fmt.Sprintf("[%s](%s)", ci, st.CIURL)
		}
		reviewer := string(st.ReviewerStatus)
		if st.ReviewerStatus == models.ReviewerReviewed {
			reviewer = fmt.Sprintf("reviewed, %d comments", st.ReviewerComments)
		}
		a.Fields = append(a.Fields,
			chat.Field{Name: "CI", Value: ci, Inline: true},
			chat.Field{Name: "Automated review", Value: reviewer, Inline: true},
			chat.Field{Name: "Agent review", Value: strings.ReplaceAll(string(st.AgentStatus), "_", " "), Inline: true},
		)
	}
	return a
}

func prState(snap models.PRSnapshot) string {
	if snap.State == models.StateOpen && snap.Draft {
		return "draft"
	}
	return snap.State
}

func prColor(snap models.PRSnapshot) int {
	switch {
	case snap.State == models.StateMerged:
		return colorMerged
	case snap.State == models.StateClosed:
		return colorClosed
	case snap.Draft:
		return colorDraft
	}
	return colorOpen
}

func Issue(snap models.IssueSnapshot) chat.Artifact {
	a := chat.Artifact{
		Title:       fmt.Sprintf("%s #%d: %s", MarkerIssue, snap.Number, snap.Title),
		URL:         snap.URL,
		Description: fmt.Sprintf("by **%s**", snap.Author),
		Color:       colorOpen,
		Footer:      footer.Encode(footer.Issue()),
		Timestamp:   snap.CreatedAt,
	}
	state := snap.State
	if snap.State == models.StateClosed {
		a.Color = colorClosed
		if snap.StateReason != "" {
			state = fmt.Sprintf("closed (%s)", strings.ReplaceAll(snap.StateReason, "_", " "))
		}
	}
	a.Fields = append(a.Fields, chat.Field{Name: "State", Value: state, Inline: true})
	if len(snap.Labels) > 0 {
		a.Fields = append(a.Fields, chat.Field{Name: "Labels", Value: strings.Join(snap.Labels, ", "), Inline: true})
	}
	return a
}

// ThreadName is the name given to the reply thread of an entity message.
func ThreadName(kind models.Kind, number int, title string) string {
	marker := MarkerPR
	if kind == models.KindIssue {
		marker = MarkerIssue
	}
	return fmt.Sprintf("%s #%d: %s", marker, number, title)
}

// Notice is a one-off message for events that are not tracked entities.
type Notice struct {
	Title       string
	URL         string
	Description string
	Fields      []chat.Field
	Warning     bool
	Timestamp   time.Time
}

func (n Notice) Artifact() chat.Artifact {
	color := colorInfo
	if n.Warning {
		color = colorWarning
	}
	return chat.Artifact{
		Title:       n.Title,
		URL:         n.URL,
		Description: n.Description,
		Color:       color,
		Fields:      n.Fields,
		Timestamp:   n.Timestamp,
	}
}
