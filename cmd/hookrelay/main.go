package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/esnunes/hookrelay/internal/config"
)

var version = "dev"

func main() {
	cfg, err := config.Load("", os.LookupEnv)
	if err != nil {
		log.WithError(err).Fatal("cannot load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&cfg).ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("command failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "hookrelay",
		Short: "Relay GitHub activity into a chat channel",
		Long: `hookrelay mirrors pull requests, issues and CI runs of a GitHub
repository as chat messages that are edited in place as they change.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("cannot parse log-level: %w", err)
			}
			log.SetLevel(level)

			formatter := new(log.TextFormatter)
			formatter.TimestampFormat = "2006-01-02T15:04:05.999Z07:00"
			formatter.FullTimestamp = true
			log.SetFormatter(formatter)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace,debug,info,warn,error)")
	cfg.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newEventCmd(cfg),
		newPollCmd(cfg),
		newServeCmd(cfg),
		newAuditCmd(cfg),
		newVersionCmd(),
	)
	return root
}

func newEventCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "event",
		Short: "Handle the single event described by GITHUB_EVENT_NAME and GITHUB_EVENT_PATH",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateEvent(); err != nil {
				return err
			}
			payload, err := os.ReadFile(cfg.EventPath)
			if err != nil {
				return fmt.Errorf("reading event payload: %w", err)
			}
			r, err := newRelay(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			return r.HandlePayload(cmd.Context(), cfg.EventName, payload)
		},
	}
}

func newPollCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Reconcile open pull requests against GitHub",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateChat(); err != nil {
				return err
			}
			if cfg.Repository == "" {
				return fmt.Errorf("repository is not set (GITHUB_REPOSITORY)")
			}
			r, err := newRelay(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			res, err := r.Poll(cmd.Context(), cfg.Repository)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d, updated %d, failed %d, skipped %d\n", res.Checked, res.Updated, res.Failed, res.Skipped)
			return nil
		},
	}
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive GitHub webhooks over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateChat(); err != nil {
				return err
			}
			if cfg.WebhookSecret == "" {
				log.Warn("No webhook secret configured, deliveries are not authenticated")
			}
			r, err := newRelay(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			srv := r.Server()
			if err := srv.Listen(cfg.ListenAddr); err != nil {
				return err
			}
			return srv.Serve(cmd.Context())
		},
	}
}

func newAuditCmd(cfg *config.Config) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the most recent events recorded for the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Repository == "" {
				return fmt.Errorf("repository is not set (GITHUB_REPOSITORY)")
			}
			return printAudit(cmd.OutOrStdout(), *cfg, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to print")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
