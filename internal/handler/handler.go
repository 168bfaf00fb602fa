// Package handler applies GitHub events to the chat channel and the durable
// store. Every entity write goes through the identity resolver so a lost or
// stale mapping is repaired before the channel is touched.
package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/esnunes/hookrelay/internal/chat"
	"github.com/esnunes/hookrelay/internal/db"
	"github.com/esnunes/hookrelay/internal/github"
	"github.com/esnunes/hookrelay/internal/identity"
	"github.com/esnunes/hookrelay/internal/models"
	"github.com/esnunes/hookrelay/internal/retry"
)

// threadAutoArchiveMinutes is one week, the longest auto-archive the
// platform offers without boosts.
const threadAutoArchiveMinutes = 10080

// GitHub is the data the handlers fetch beyond what payloads carry.
type GitHub interface {
	FailedSteps(ctx context.Context, repoName string, runID int64) ([]github.FailedStep, error)
	ReviewCommentCount(ctx context.Context, repoName string, number int, reviewID int64) (int, error)
	GetPullRequest(ctx context.Context, repoName string, number int) (models.PRSnapshot, error)
}

type Config struct {
	ReviewerLogin string
	AgentLogin    string
	Policy        retry.Policy
	Logger        log.FieldLogger
}

type Handler struct {
	store    *db.Store
	channel  chat.Channel
	github   GitHub
	resolver *identity.Resolver
	policy   retry.Policy
	cfg      Config
	log      log.FieldLogger
}

// HandlerFunc handles one event kind.
type HandlerFunc func(h *Handler, ctx context.Context, ev *github.Event, logger log.FieldLogger) error

var handlers = map[string]HandlerFunc{
	"pull_request":          handlePullRequest,
	"pull_request_review":   handlePullRequestReview,
	"issues":                handleIssues,
	"workflow_run":          handleWorkflowRun,
	"release":               handleRelease,
	"deployment_status":     handleDeploymentStatus,
	"push":                  handlePush,
	"code_scanning_alert":   handleCodeScanningAlert,
	"dependabot_alert":      handleDependabotAlert,
	"secret_scanning_alert": handleSecretScanningAlert,
}

// Supported reports whether name has a handler.
func Supported(name string) bool {
	_, ok := handlers[name]
	return ok
}

func New(store *db.Store, ch chat.Channel, gh GitHub, cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Policy.Logger == nil {
		cfg.Policy.Logger = cfg.Logger
	}
	return &Handler{
		store:    store,
		channel:  ch,
		github:   gh,
		resolver: identity.NewResolver(store, cfg.Policy, cfg.Logger),
		policy:   cfg.Policy,
		cfg:      cfg,
		log:      cfg.Logger,
	}
}

type auditRecord struct {
	DeliveryID string          `json:"delivery_id"`
	Action     string          `json:"action,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Audit records ev in the audit log of store. Events that arrive without a
// delivery id get a generated one.
func Audit(store *db.Store, ev *github.Event) {
	if ev.DeliveryID == "" {
		ev.DeliveryID = uuid.NewString()
	}
	var entity *int
	if ev.Number > 0 {
		n := ev.Number
		entity = &n
	}
	store.AppendAuditLog(ev.Repo, entity, ev.Name, auditRecord{
		DeliveryID: ev.DeliveryID,
		Action:     ev.Action,
		Payload:    json.RawMessage(ev.Payload),
	})
}

// Handle records ev in the audit log and runs its handler.
func (h *Handler) Handle(ctx context.Context, ev *github.Event) error {
	Audit(h.store, ev)
	return h.Dispatch(ctx, ev)
}

// Dispatch runs the handler of ev without auditing it. Events without a
// handler are logged and ignored.
func (h *Handler) Dispatch(ctx context.Context, ev *github.Event) error {
	logger := h.log.WithField("event", ev.Name).
		WithField("action", ev.Action).
		WithField("repo", ev.Repo)
	if ev.DeliveryID != "" {
		logger = logger.WithField("delivery_id", ev.DeliveryID)
	}
	if ev.Number > 0 {
		logger = logger.WithField("number", ev.Number)
	}

	fn, ok := handlers[ev.Name]
	if !ok {
		logger.Info("Ignoring unsupported event")
		return nil
	}
	if err := fn(h, ctx, ev, logger); err != nil {
		return fmt.Errorf("handling %s event: %w", ev.Name, err)
	}
	logger.Debug("Event handled")
	return nil
}

// Resolve returns the mapping for an entity, recovering it from channel
// history when the store has none.
func (h *Handler) Resolve(ctx context.Context, kind models.Kind, repoName string, number int) (*models.MessageMapping, error) {
	return h.resolver.Resolve(ctx, kind, h.channel, repoName, number)
}

// publish edits the entity's message, or posts a new one when there is none
// or the mapped message was deleted.
func (h *Handler) publish(ctx context.Context, kind models.Kind, repoName string, number int, a chat.Artifact) (*models.MessageMapping, error) {
	m, err := h.Resolve(ctx, kind, repoName, number)
	if err != nil {
		return nil, err
	}
	if m != nil {
		err := retry.Run(ctx, h.policy, func(ctx context.Context) error {
			return h.channel.EditMessage(ctx, m.MessageID, a)
		})
		switch {
		case err == nil:
			if err := h.store.TouchTimestamp(kind, repoName, number); err != nil {
				return nil, err
			}
			return h.store.GetMessageMapping(kind, repoName, number)
		case identity.IsStale(err):
			if err := h.resolver.Forget(kind, repoName, number, m.MessageID); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("editing message %s: %w", m.MessageID, err)
		}
	}

	id, err := retry.Do(ctx, h.policy, func(ctx context.Context) (string, error) {
		return h.channel.Send(ctx, a)
	})
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	if err := h.store.UpsertMessageMapping(kind, repoName, number, h.channel.ID(), id, nil); err != nil {
		return nil, err
	}
	h.log.WithField("repo", repoName).
		WithField("number", number).
		WithField("kind", kind).
		WithField("message_id", id).
		Info("Posted new message")
	return h.store.GetMessageMapping(kind, repoName, number)
}

// ensureThread returns the reply thread of m, unarchiving it or starting a
// new one as needed.
func (h *Handler) ensureThread(ctx context.Context, kind models.Kind, m *models.MessageMapping, name string) (string, error) {
	if m.ThreadID != nil {
		th, err := retry.Do(ctx, h.policy, func(ctx context.Context) (*chat.Thread, error) {
			return h.channel.FetchThread(ctx, *m.ThreadID)
		})
		if err != nil {
			return "", fmt.Errorf("fetching thread: %w", err)
		}
		if th != nil {
			if th.Archived {
				if err := h.setArchived(ctx, th.ID, false); err != nil {
					return "", err
				}
			}
			return th.ID, nil
		}
	}

	id, err := retry.Do(ctx, h.policy, func(ctx context.Context) (string, error) {
		return h.channel.StartThread(ctx, m.MessageID, name, threadAutoArchiveMinutes)
	})
	if err != nil {
		return "", fmt.Errorf("starting thread: %w", err)
	}
	if err := h.store.UpdateThread(kind, m.Repo, m.Number, id); err != nil {
		return "", err
	}
	m.ThreadID = &id
	return id, nil
}

// reply posts text to the entity's thread and optionally archives it after.
func (h *Handler) reply(ctx context.Context, kind models.Kind, m *models.MessageMapping, name, text string, archive bool) error {
	threadID, err := h.ensureThread(ctx, kind, m, name)
	if err != nil {
		return err
	}
	err = retry.Run(ctx, h.policy, func(ctx context.Context) error {
		return h.channel.SendToThread(ctx, threadID, text)
	})
	if err != nil {
		return fmt.Errorf("replying in thread: %w", err)
	}
	if archive {
		return h.setArchived(ctx, threadID, true)
	}
	return nil
}

func (h *Handler) setArchived(ctx context.Context, threadID string, archived bool) error {
	err := retry.Run(ctx, h.policy, func(ctx context.Context) error {
		return h.channel.SetThreadArchived(ctx, threadID, archived)
	})
	if err != nil {
		return fmt.Errorf("setting thread archived=%t: %w", archived, err)
	}
	return nil
}

// announce posts a standalone message that is not tracked as an entity.
func (h *Handler) announce(ctx context.Context, a chat.Artifact, logger log.FieldLogger) error {
	id, err := retry.Do(ctx, h.policy, func(ctx context.Context) (string, error) {
		return h.channel.Send(ctx, a)
	})
	if err != nil {
		return fmt.Errorf("sending notice: %w", err)
	}
	logger.WithField("message_id", id).Info("Posted notice")
	return nil
}
