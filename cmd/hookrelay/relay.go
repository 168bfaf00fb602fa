package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/esnunes/hookrelay/internal/chat"
	"github.com/esnunes/hookrelay/internal/config"
	"github.com/esnunes/hookrelay/internal/db"
	"github.com/esnunes/hookrelay/internal/github"
	"github.com/esnunes/hookrelay/internal/handler"
	"github.com/esnunes/hookrelay/internal/poll"
	"github.com/esnunes/hookrelay/internal/retry"
	"github.com/esnunes/hookrelay/internal/server"
)

// relay wires the configured clients to per-repository stores. The store is
// opened for each unit of work and closed with a checkpoint afterwards.
type relay struct {
	cfg    config.Config
	chat   chat.Client
	github *github.Client
	log    log.FieldLogger
}

func newRelay(ctx context.Context, cfg config.Config) (*relay, error) {
	discord, err := chat.NewDiscord(cfg.DiscordToken)
	if err != nil {
		return nil, err
	}
	return &relay{
		cfg:    cfg,
		chat:   discord,
		github: github.New(ctx, cfg.GitHubToken),
		log:    log.StandardLogger(),
	}, nil
}

func (r *relay) policy() retry.Policy {
	p := r.cfg.RetryPolicy()
	p.Logger = r.log
	return p
}

// withStore opens the store of repoName for the duration of fn.
func (r *relay) withStore(repoName string, fn func(store *db.Store) error) (err error) {
	store, err := db.Open(repoName, r.cfg.StateDir, db.WithLogger(r.log))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing store: %w", cerr)
		}
	}()
	return fn(store)
}

// newHandler builds a handler bound to the configured channel.
func (r *relay) newHandler(ctx context.Context, store *db.Store) (*handler.Handler, error) {
	ch, err := retry.Do(ctx, r.policy(), func(ctx context.Context) (chat.Channel, error) {
		return r.chat.FetchChannel(ctx, r.cfg.ChannelID)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching channel %s: %w", r.cfg.ChannelID, err)
	}
	return handler.New(store, ch, r.github, handler.Config{
		ReviewerLogin: r.cfg.ReviewerLogin,
		AgentLogin:    r.cfg.AgentLogin,
		Policy:        r.policy(),
		Logger:        r.log,
	}), nil
}

// Dispatch audits ev before anything can fail, then handles it.
func (r *relay) Dispatch(ctx context.Context, ev *github.Event) error {
	return r.withStore(ev.Repo, func(store *db.Store) error {
		handler.Audit(store, ev)
		h, err := r.newHandler(ctx, store)
		if err != nil {
			return err
		}
		return h.Dispatch(ctx, ev)
	})
}

func (r *relay) HandlePayload(ctx context.Context, name string, payload []byte) error {
	ev, err := github.ParseEvent(name, payload)
	if err != nil {
		return err
	}
	return r.Dispatch(ctx, ev)
}

func (r *relay) Poll(ctx context.Context, repoName string) (poll.Result, error) {
	var res poll.Result
	err := r.withStore(repoName, func(store *db.Store) error {
		h, err := r.newHandler(ctx, store)
		if err != nil {
			return err
		}
		p := poll.New(store, r.github, h, poll.Config{
			AgentLogin: r.cfg.AgentLogin,
			Limit:      r.cfg.PollLimit,
			Interval:   r.cfg.PollInterval,
			Logger:     r.log,
		})
		res, err = p.Run(ctx, repoName)
		return err
	})
	return res, err
}

func (r *relay) Server() *server.Server {
	return server.New(r.Dispatch, server.Options{
		Secret:     r.cfg.WebhookSecret,
		Repository: r.cfg.Repository,
		Logger:     r.log,
	})
}

func printAudit(w io.Writer, cfg config.Config, limit int) error {
	store, err := db.Open(cfg.Repository, cfg.StateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.RecentAuditLog(cfg.Repository, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tENTITY")
	for _, e := range entries {
		entity := "-"
		if e.EntityNumber != nil {
			entity = fmt.Sprintf("#%d", *e.EntityNumber)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.CreatedAt.Local().Format(time.DateTime), e.EventType, entity)
	}
	return tw.Flush()
}
