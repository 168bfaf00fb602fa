// Package poll reconciles open PRs against GitHub. Some signals, such as a
// policy agent's review, cannot trigger a workflow on their own, so they are
// picked up here on a schedule.
package poll

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/esnunes/hookrelay/internal/db"
	"github.com/esnunes/hookrelay/internal/github"
	"github.com/esnunes/hookrelay/internal/handler"
	"github.com/esnunes/hookrelay/internal/models"
)

// budgetWarnRatio is the share of the poll interval after which a pass is
// reported as running long.
const budgetWarnRatio = 0.8

type GitHub interface {
	GetPullRequest(ctx context.Context, repoName string, number int) (models.PRSnapshot, error)
	ListReviews(ctx context.Context, repoName string, number int) ([]github.Review, error)
}

type Config struct {
	AgentLogin string
	Limit      int
	Interval   time.Duration
	Logger     log.FieldLogger
	Now        func() time.Time
}

type Poller struct {
	store   *db.Store
	github  GitHub
	handler *handler.Handler
	cfg     Config
	log     log.FieldLogger
}

// Result summarizes one pass.
type Result struct {
	Checked int
	Updated int
	Failed  int
	Skipped int
}

func New(store *db.Store, gh GitHub, h *handler.Handler, cfg Config) *Poller {
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{store: store, github: gh, handler: h, cfg: cfg, log: cfg.Logger}
}

// Run checks every stored open PR of repoName, oldest number first, up to
// the configured limit. A failing PR is logged and does not stop the pass.
func (p *Poller) Run(ctx context.Context, repoName string) (Result, error) {
	start := p.cfg.Now()
	logger := p.log.WithField("repo", repoName)

	numbers, err := p.store.ListOpenEntityNumbers(models.KindPR, repoName)
	if err != nil {
		return Result{}, err
	}
	var res Result
	if p.cfg.Limit > 0 && len(numbers) > p.cfg.Limit {
		res.Skipped = len(numbers) - p.cfg.Limit
		logger.WithField("open", len(numbers)).WithField("limit", p.cfg.Limit).Warn("More open PRs than the poll limit, checking the oldest only")
		numbers = numbers[:p.cfg.Limit]
	}

	for _, number := range numbers {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		prLogger := logger.WithField("number", number)
		changed, err := p.reconcile(ctx, repoName, number, prLogger)
		if err != nil {
			res.Failed++
			prLogger.WithError(err).Error("Failed to reconcile PR")
			continue
		}
		if changed {
			res.Updated++
		}
	}

	elapsed := p.cfg.Now().Sub(start)
	entry := logger.WithField("checked", res.Checked).
		WithField("updated", res.Updated).
		WithField("failed", res.Failed).
		WithField("elapsed", elapsed)
	if p.cfg.Interval > 0 && elapsed > time.Duration(float64(p.cfg.Interval)*budgetWarnRatio) {
		entry.WithField("interval", p.cfg.Interval).Warn("Poll pass is close to its scheduling interval")
	} else {
		entry.Info("Poll pass finished")
	}
	return res, nil
}

func (p *Poller) reconcile(ctx context.Context, repoName string, number int, logger log.FieldLogger) (bool, error) {
	stored, err := p.store.GetPRSnapshot(repoName, number)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, fmt.Errorf("no snapshot for PR #%d", number)
	}

	// Repair a lost mapping first so replayed footer status is overwritten,
	// not the other way around.
	if _, err := p.handler.Resolve(ctx, models.KindPR, repoName, number); err != nil {
		return false, err
	}

	upstream, err := p.github.GetPullRequest(ctx, repoName, number)
	if err != nil {
		return false, err
	}

	var replies []string
	archive := false

	if p.cfg.AgentLogin != "" {
		reviews, err := p.github.ListReviews(ctx, repoName, number)
		if err != nil {
			return false, err
		}
		if verdict := latestVerdict(reviews, p.cfg.AgentLogin); verdict != "" {
			st, err := p.store.GetStatus(repoName, number)
			if err != nil {
				return false, err
			}
			if st == nil || st.AgentStatus != verdict {
				if err := p.store.UpdateAgentStatus(repoName, number, verdict); err != nil {
					return false, err
				}
				logger.WithField("verdict", verdict).Info("Observed new agent verdict")
				replies = append(replies, handler.AgentVerdictText(p.cfg.AgentLogin, verdict))
			}
		}
	}

	snapChanged := upstream.State != stored.State ||
		upstream.Draft != stored.Draft ||
		upstream.Title != stored.Title ||
		upstream.HeadSHA != stored.HeadSHA
	if snapChanged {
		if err := p.store.UpsertPRSnapshot(upstream); err != nil {
			return false, err
		}
		if upstream.State != stored.State {
			switch upstream.State {
			case models.StateMerged:
				replies = append(replies, "🟣 Merged")
				archive = true
			case models.StateClosed:
				replies = append(replies, "🔴 Closed")
				archive = true
			}
		}
	}

	if !snapChanged && len(replies) == 0 {
		return false, nil
	}

	m, err := p.handler.RefreshPR(ctx, repoName, number)
	if err != nil {
		return false, err
	}
	for i, text := range replies {
		if err := p.handler.ReplyPR(ctx, m, upstream, text, archive && i == len(replies)-1); err != nil {
			return false, err
		}
	}
	return true, nil
}

// latestVerdict returns the agent's most recent approving or
// changes-requesting review, ignoring comments.
func latestVerdict(reviews []github.Review, login string) models.AgentStatus {
	var verdict models.AgentStatus
	for _, r := range reviews {
		if r.User != login {
			continue
		}
		switch r.State {
		case "approved":
			verdict = models.AgentApproved
		case "changes_requested":
			verdict = models.AgentChangesRequested
		case "dismissed":
			verdict = models.AgentNone
		}
	}
	return verdict
}
