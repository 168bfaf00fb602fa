package identity

import (
	"context"
	"regexp"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/esnunes/hookrelay/internal/chat"
	"github.com/esnunes/hookrelay/internal/repo"
	"github.com/esnunes/hookrelay/internal/retry"
)

// SearchWindow is how many recent channel messages the fallback inspects.
const SearchWindow = 100

// Match is a previously posted message found in channel history.
type Match struct {
	MessageID string
	ThreadID  string
	Footer    string
}

// FindByEntityNumber scans the most recent messages of ch, newest first, for
// one whose first artifact title matches pattern with the given number and
// whose link points into repoName. Fetch failures yield nil: this path is
// best-effort.
func FindByEntityNumber(ctx context.Context, ch chat.Channel, pattern *regexp.Regexp, repoName string, number int, policy retry.Policy, logger log.FieldLogger) *Match {
	msgs, err := retry.Do(ctx, policy, func(ctx context.Context) ([]chat.Message, error) {
		return ch.RecentMessages(ctx, SearchWindow)
	})
	if err != nil {
		logger.WithError(err).Warn("Channel history search failed")
		return nil
	}

	for _, msg := range msgs {
		if len(msg.Artifacts) == 0 {
			continue
		}
		a := msg.Artifacts[0]
		m := pattern.FindStringSubmatch(a.Title)
		if len(m) < 2 {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n != number {
			continue
		}
		// Channels are shared between repositories; the number alone is
		// ambiguous.
		if !repo.InURL(a.URL, repoName) {
			continue
		}
		return &Match{MessageID: msg.ID, ThreadID: msg.ThreadID, Footer: a.Footer}
	}
	return nil
}
