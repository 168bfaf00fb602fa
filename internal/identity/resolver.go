// Package identity answers which chat message represents a PR or issue,
// recovering lost mappings from channel history when the store has none.
package identity

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/esnunes/hookrelay/internal/chat"
	"github.com/esnunes/hookrelay/internal/footer"
	"github.com/esnunes/hookrelay/internal/models"
	"github.com/esnunes/hookrelay/internal/render"
	"github.com/esnunes/hookrelay/internal/retry"
)

// Store is the part of the durable store the resolver reads and repairs.
type Store interface {
	GetMessageMapping(kind models.Kind, repo string, number int) (*models.MessageMapping, error)
	UpsertMessageMapping(kind models.Kind, repo string, number int, channelID, messageID string, threadID *string) error
	DeleteMapping(kind models.Kind, repo string, number int) error
	EnsureStatusRow(repo string, number int) error
	UpdateCIStatus(repo string, number int, status models.CIStatus, workflow, url string) error
	UpdateReviewerStatus(repo string, number int, status models.ReviewerStatus, comments *int) error
	UpdateAgentStatus(repo string, number int, status models.AgentStatus) error
}

type Resolver struct {
	store  Store
	policy retry.Policy
	log    log.FieldLogger
}

func NewResolver(store Store, policy retry.Policy, logger log.FieldLogger) *Resolver {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Resolver{store: store, policy: policy, log: logger}
}

// Resolve returns the mapping for an entity, or nil if no message exists.
//
// A store hit returns without remote I/O. On a miss the channel history is
// searched; a hit there is written back, along with any status carried in
// the message footer, so the next call takes the fast path.
func (r *Resolver) Resolve(ctx context.Context, kind models.Kind, ch chat.Channel, repoName string, number int) (*models.MessageMapping, error) {
	m, err := r.store.GetMessageMapping(kind, repoName, number)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return m, nil
	}

	logger := r.log.WithField("repo", repoName).WithField("number", number).WithField("kind", kind)
	match := FindByEntityNumber(ctx, ch, render.TitlePattern(kind), repoName, number, r.policy, logger)
	if match == nil {
		return nil, nil
	}

	var threadID *string
	if match.ThreadID != "" {
		threadID = &match.ThreadID
	}
	if err := r.store.UpsertMessageMapping(kind, repoName, number, ch.ID(), match.MessageID, threadID); err != nil {
		return nil, fmt.Errorf("writing back recovered mapping: %w", err)
	}

	recovered := false
	if kind == models.KindPR {
		if err := r.store.EnsureStatusRow(repoName, number); err != nil {
			return nil, err
		}
		if snap := footer.Decode(match.Footer); snap != nil && snap.Kind == models.KindPR && snap.PR != nil {
			if err := r.replay(repoName, number, snap.PR); err != nil {
				return nil, fmt.Errorf("replaying recovered status: %w", err)
			}
			recovered = true
		}
	}
	logger.WithField("message_id", match.MessageID).
		WithField("status_recovered", recovered).
		Info("Recovered message mapping from channel history")

	return r.store.GetMessageMapping(kind, repoName, number)
}

func (r *Resolver) replay(repoName string, number int, st *footer.PRState) error {
	if err := r.store.UpdateCIStatus(repoName, number, st.CI, "", ""); err != nil {
		return err
	}
	if err := r.store.UpdateReviewerStatus(repoName, number, st.Reviewer, st.ReviewerComments); err != nil {
		return err
	}
	// A pending verdict is the default, not an observation.
	if st.Agent != models.AgentPending {
		if err := r.store.UpdateAgentStatus(repoName, number, st.Agent); err != nil {
			return err
		}
	}
	return nil
}

// Forget drops a mapping whose message was deleted out-of-band so the caller
// can post a fresh one.
func (r *Resolver) Forget(kind models.Kind, repoName string, number int, messageID string) error {
	r.log.WithField("repo", repoName).
		WithField("number", number).
		WithField("kind", kind).
		WithField("message_id", messageID).
		Warn("Mapped message no longer exists, dropping stale mapping")
	return r.store.DeleteMapping(kind, repoName, number)
}

// IsStale reports whether err from an edit or fetch means the mapped message
// is gone. Other errors must propagate unchanged.
func IsStale(err error) bool {
	return chat.IsNotFound(err)
}
