// Package chat defines the chat platform surface the relay posts to:
// channels holding embed messages, each optionally carrying a reply thread.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Artifact is one rendered embed.
type Artifact struct {
	Title       string
	URL         string
	Description string
	Color       int
	Fields      []Field
	Footer      string
	Timestamp   time.Time
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

type Message struct {
	ID        string
	ChannelID string
	// ThreadID is set when a thread has been started from this message.
	ThreadID  string
	Artifacts []Artifact
}

type Thread struct {
	ID       string
	Archived bool
}

// Client resolves channels by id.
type Client interface {
	FetchChannel(ctx context.Context, id string) (Channel, error)
}

// Channel is a text channel. Every method performs a network round trip and
// returns *APIError for non-2xx answers from the platform.
type Channel interface {
	ID() string
	Send(ctx context.Context, a Artifact) (string, error)
	FetchMessage(ctx context.Context, id string) (*Message, error)
	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, limit int) ([]Message, error)
	EditMessage(ctx context.Context, id string, a Artifact) error
	StartThread(ctx context.Context, messageID, name string, autoArchiveMinutes int) (string, error)
	// FetchThread returns nil when the thread no longer exists.
	FetchThread(ctx context.Context, id string) (*Thread, error)
	SetThreadArchived(ctx context.Context, id string, archived bool) error
	SendToThread(ctx context.Context, threadID, text string) error
}

// APIError is a structured error answer from the chat platform. Callers use
// errors.As or the Is* helpers:
//
//	if chat.IsNotFound(err) { ... }
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Code is the platform-specific error code, 0 if absent.
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat: HTTP %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// HTTPStatus lets the retry policy classify the error.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Platform error codes that identify deleted resources.
const (
	CodeUnknownChannel = 10003
	CodeUnknownMessage = 10008
)

// IsNotFound reports whether err says the message, channel or thread is gone.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound ||
		apiErr.Code == CodeUnknownMessage ||
		apiErr.Code == CodeUnknownChannel
}

// IsServerError reports whether err is a 5xx answer.
func IsServerError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 500
}
