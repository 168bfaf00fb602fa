// Package config loads relay settings from defaults, an optional YAML file,
// the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/esnunes/hookrelay/internal/paths"
	"github.com/esnunes/hookrelay/internal/retry"
)

type Config struct {
	DiscordToken string `yaml:"discord_token"`
	ChannelID    string `yaml:"channel_id"`
	GitHubToken  string `yaml:"github_token"`

	Repository string `yaml:"repository"`
	EventName  string `yaml:"-"`
	EventPath  string `yaml:"-"`

	StateDir string `yaml:"state_dir"`

	// ReviewerLogin is the account of the automated code reviewer.
	ReviewerLogin string `yaml:"reviewer_login"`
	// AgentLogin is the account of the policy agent whose verdicts are tracked.
	AgentLogin string `yaml:"agent_login"`

	PollInterval time.Duration `yaml:"poll_interval"`
	PollLimit    int           `yaml:"poll_limit"`

	WebhookSecret string `yaml:"webhook_secret"`
	ListenAddr    string `yaml:"listen_addr"`

	RetryMax       int           `yaml:"retry_max"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ReviewerLogin:  "copilot-pull-request-reviewer[bot]",
		PollInterval:   15 * time.Minute,
		PollLimit:      50,
		ListenAddr:     "127.0.0.1:8080",
		RetryMax:       retry.DefaultMaxRetries,
		RetryBaseDelay: retry.DefaultBaseDelay,
	}
}

// Load builds the configuration from file and environment. lookup is
// os.LookupEnv outside tests.
func Load(file string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if file == "" {
		file, _ = lookup("HOOKRELAY_CONFIG")
	}
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", file, err)
		}
	}

	strVars := []struct {
		dst  *string
		keys []string
	}{
		{&cfg.DiscordToken, []string{"HOOKRELAY_DISCORD_TOKEN", "DISCORD_BOT_TOKEN"}},
		{&cfg.ChannelID, []string{"HOOKRELAY_CHANNEL_ID", "DISCORD_CHANNEL_ID"}},
		{&cfg.GitHubToken, []string{"HOOKRELAY_GITHUB_TOKEN", "GITHUB_TOKEN"}},
		{&cfg.Repository, []string{"HOOKRELAY_REPOSITORY", "GITHUB_REPOSITORY"}},
		{&cfg.EventName, []string{"GITHUB_EVENT_NAME"}},
		{&cfg.EventPath, []string{"GITHUB_EVENT_PATH"}},
		{&cfg.StateDir, []string{"HOOKRELAY_STATE_DIR"}},
		{&cfg.ReviewerLogin, []string{"HOOKRELAY_REVIEWER_LOGIN"}},
		{&cfg.AgentLogin, []string{"HOOKRELAY_AGENT_LOGIN"}},
		{&cfg.WebhookSecret, []string{"HOOKRELAY_WEBHOOK_SECRET"}},
		{&cfg.ListenAddr, []string{"HOOKRELAY_LISTEN_ADDR"}},
	}
	for _, v := range strVars {
		for _, key := range v.keys {
			if val, ok := lookup(key); ok && val != "" {
				*v.dst = val
				break
			}
		}
	}

	durVars := []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.PollInterval, "HOOKRELAY_POLL_INTERVAL"},
		{&cfg.RetryBaseDelay, "HOOKRELAY_RETRY_BASE_DELAY"},
	}
	for _, v := range durVars {
		if val, ok := lookup(v.key); ok && val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return cfg, fmt.Errorf("parsing %s: %w", v.key, err)
			}
			*v.dst = d
		}
	}

	intVars := []struct {
		dst *int
		key string
	}{
		{&cfg.PollLimit, "HOOKRELAY_POLL_LIMIT"},
		{&cfg.RetryMax, "HOOKRELAY_RETRY_MAX"},
	}
	for _, v := range intVars {
		if val, ok := lookup(v.key); ok && val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return cfg, fmt.Errorf("parsing %s: %w", v.key, err)
			}
			*v.dst = n
		}
	}

	if cfg.StateDir == "" {
		dir, err := paths.StateDir()
		if err != nil {
			return cfg, fmt.Errorf("resolving state directory: %w", err)
		}
		cfg.StateDir = dir
	}
	return cfg, nil
}

// BindFlags registers overrides for the settings operators commonly change
// per invocation.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ChannelID, "channel", c.ChannelID, "Chat channel id to post to")
	fs.StringVar(&c.Repository, "repository", c.Repository, "Repository as owner/name")
	fs.StringVar(&c.StateDir, "state-dir", c.StateDir, "Base directory for per-repository state")
	fs.StringVar(&c.EventName, "event-name", c.EventName, "GitHub event name (defaults to GITHUB_EVENT_NAME)")
	fs.StringVar(&c.EventPath, "event-path", c.EventPath, "Path to the event payload (defaults to GITHUB_EVENT_PATH)")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "Address the webhook server listens on")
	fs.IntVar(&c.PollLimit, "poll-limit", c.PollLimit, "Maximum open PRs checked per poll")
}

// RetryPolicy is the policy wrapped around every chat platform call.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxRetries: c.RetryMax, BaseDelay: c.RetryBaseDelay}
}

// ValidateChat checks the settings every posting command needs.
func (c Config) ValidateChat() error {
	var errs []error
	if c.DiscordToken == "" {
		errs = append(errs, errors.New("discord token is not set (HOOKRELAY_DISCORD_TOKEN)"))
	}
	if c.ChannelID == "" {
		errs = append(errs, errors.New("channel id is not set (HOOKRELAY_CHANNEL_ID)"))
	}
	return errors.Join(errs...)
}

// ValidateEvent checks the settings the single-event command needs.
func (c Config) ValidateEvent() error {
	var errs []error
	if err := c.ValidateChat(); err != nil {
		errs = append(errs, err)
	}
	if c.EventName == "" {
		errs = append(errs, errors.New("event name is not set (GITHUB_EVENT_NAME)"))
	}
	if c.EventPath == "" {
		errs = append(errs, errors.New("event path is not set (GITHUB_EVENT_PATH)"))
	}
	return errors.Join(errs...)
}
