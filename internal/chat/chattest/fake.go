// Package chattest provides an in-memory chat.Client for tests.
package chattest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/esnunes/hookrelay/internal/chat"
)

// Client holds fake channels by id.
type Client struct {
	mu       sync.Mutex
	channels map[string]*Channel

	FetchChannelCalls int
}

func NewClient(channels ...*Channel) *Client {
	c := &Client{channels: make(map[string]*Channel)}
	for _, ch := range channels {
		c.channels[ch.id] = ch
	}
	return c
}

func (c *Client) FetchChannel(_ context.Context, id string) (chat.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FetchChannelCalls++
	ch, ok := c.channels[id]
	if !ok {
		return nil, NotFound()
	}
	return ch, nil
}

// Channel keeps messages oldest first and threads by id. Err* fields, when
// set, are consumed one per call before the call succeeds.
type Channel struct {
	mu      sync.Mutex
	id      string
	nextID  int
	msgs    []chat.Message
	threads map[string]*chat.Thread
	replies map[string][]string

	SendErrs       []error
	EditErrs       []error
	FetchErrs      []error
	HistoryErrs    []error
	StartThreadErr []error

	SendCalls         int
	EditCalls         int
	FetchMessageCalls int
	HistoryCalls      int
	StartThreadCalls  int
}

func NewChannel(id string) *Channel {
	return &Channel{
		id:      id,
		threads: make(map[string]*chat.Thread),
		replies: make(map[string][]string),
	}
}

// NotFound builds the error the platform returns for a deleted message.
func NotFound() error {
	return &chat.APIError{StatusCode: http.StatusNotFound, Code: chat.CodeUnknownMessage, Message: "Unknown Message"}
}

// ServerError builds a 5xx platform error.
func ServerError() error {
	return &chat.APIError{StatusCode: http.StatusInternalServerError, Message: "Internal Server Error"}
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (c *Channel) ID() string { return c.id }

// Seed appends a message as if it had been posted earlier and returns its id.
func (c *Channel) Seed(a chat.Artifact) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(a)
}

// SeedThread attaches a thread to a message.
func (c *Channel) SeedThread(messageID string, archived bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startThreadLocked(messageID, archived)
}

func (c *Channel) appendLocked(a chat.Artifact) string {
	c.nextID++
	id := fmt.Sprintf("m%d", c.nextID)
	c.msgs = append(c.msgs, chat.Message{ID: id, ChannelID: c.id, Artifacts: []chat.Artifact{a}})
	return id
}

func (c *Channel) startThreadLocked(messageID string, archived bool) string {
	id := "t-" + messageID
	c.threads[id] = &chat.Thread{ID: id, Archived: archived}
	for i := range c.msgs {
		if c.msgs[i].ID == messageID {
			c.msgs[i].ThreadID = id
		}
	}
	return id
}

// Delete removes a message, as a human moderator would.
func (c *Channel) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.msgs {
		if c.msgs[i].ID == id {
			c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
			return
		}
	}
}

// Message returns the current state of a message, or nil.
func (c *Channel) Message(id string) *chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.msgs {
		if c.msgs[i].ID == id {
			m := c.msgs[i]
			return &m
		}
	}
	return nil
}

// Messages returns all messages, oldest first.
func (c *Channel) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Message(nil), c.msgs...)
}

// Thread returns a thread by id, or nil.
func (c *Channel) Thread(id string) *chat.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[id]
	if !ok {
		return nil
	}
	cp := *th
	return &cp
}

// Replies returns the texts posted to a thread.
func (c *Channel) Replies(threadID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.replies[threadID]...)
}

func (c *Channel) Send(_ context.Context, a chat.Artifact) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SendCalls++
	if err := pop(&c.SendErrs); err != nil {
		return "", err
	}
	return c.appendLocked(a), nil
}

func (c *Channel) FetchMessage(_ context.Context, id string) (*chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FetchMessageCalls++
	if err := pop(&c.FetchErrs); err != nil {
		return nil, err
	}
	for i := range c.msgs {
		if c.msgs[i].ID == id {
			m := c.msgs[i]
			return &m, nil
		}
	}
	return nil, NotFound()
}

func (c *Channel) RecentMessages(_ context.Context, limit int) ([]chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HistoryCalls++
	if err := pop(&c.HistoryErrs); err != nil {
		return nil, err
	}
	var out []chat.Message
	for i := len(c.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.msgs[i])
	}
	return out, nil
}

func (c *Channel) EditMessage(_ context.Context, id string, a chat.Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EditCalls++
	if err := pop(&c.EditErrs); err != nil {
		return err
	}
	for i := range c.msgs {
		if c.msgs[i].ID == id {
			c.msgs[i].Artifacts = []chat.Artifact{a}
			return nil
		}
	}
	return NotFound()
}

func (c *Channel) StartThread(_ context.Context, messageID, _ string, _ int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartThreadCalls++
	if err := pop(&c.StartThreadErr); err != nil {
		return "", err
	}
	for i := range c.msgs {
		if c.msgs[i].ID == messageID {
			if c.msgs[i].ThreadID != "" {
				return c.msgs[i].ThreadID, nil
			}
			return c.startThreadLocked(messageID, false), nil
		}
	}
	return "", NotFound()
}

func (c *Channel) FetchThread(_ context.Context, id string) (*chat.Thread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[id]
	if !ok {
		return nil, nil
	}
	cp := *th
	return &cp, nil
}

func (c *Channel) SetThreadArchived(_ context.Context, id string, archived bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[id]
	if !ok {
		return NotFound()
	}
	th.Archived = archived
	return nil
}

func (c *Channel) SendToThread(_ context.Context, threadID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.threads[threadID]; !ok {
		return NotFound()
	}
	c.replies[threadID] = append(c.replies[threadID], text)
	return nil
}
