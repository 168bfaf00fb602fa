package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// codeThreadAlreadyCreated is returned when a thread already hangs off the
// message. Discord gives such threads the id of their parent message.
const codeThreadAlreadyCreated = 160004

// Discord is a Client backed by the Discord REST API.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord creates a REST-only client for a bot token. No gateway
// connection is opened.
func NewDiscord(token string) (*Discord, error) {
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return &Discord{session: session}, nil
}

func (d *Discord) FetchChannel(ctx context.Context, id string) (Channel, error) {
	ch, err := d.session.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, convertError(err)
	}
	return &discordChannel{session: d.session, id: ch.ID}, nil
}

type discordChannel struct {
	session *discordgo.Session
	id      string
}

func (c *discordChannel) ID() string { return c.id }

func (c *discordChannel) Send(ctx context.Context, a Artifact) (string, error) {
	msg, err := c.session.ChannelMessageSendEmbeds(c.id, []*discordgo.MessageEmbed{toEmbed(a)}, discordgo.WithContext(ctx))
	if err != nil {
		return "", convertError(err)
	}
	return msg.ID, nil
}

func (c *discordChannel) FetchMessage(ctx context.Context, id string) (*Message, error) {
	msg, err := c.session.ChannelMessage(c.id, id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, convertError(err)
	}
	m := fromMessage(msg)
	return &m, nil
}

func (c *discordChannel) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	msgs, err := c.session.ChannelMessages(c.id, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, convertError(err)
	}
	results := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		results = append(results, fromMessage(msg))
	}
	return results, nil
}

func (c *discordChannel) EditMessage(ctx context.Context, id string, a Artifact) error {
	_, err := c.session.ChannelMessageEditEmbeds(c.id, id, []*discordgo.MessageEmbed{toEmbed(a)}, discordgo.WithContext(ctx))
	return convertError(err)
}

func (c *discordChannel) StartThread(ctx context.Context, messageID, name string, autoArchiveMinutes int) (string, error) {
	th, err := c.session.MessageThreadStart(c.id, messageID, truncate(name, 100), autoArchiveMinutes, discordgo.WithContext(ctx))
	if err != nil {
		converted := convertError(err)
		var apiErr *APIError
		if errors.As(converted, &apiErr) && apiErr.Code == codeThreadAlreadyCreated {
			return messageID, nil
		}
		return "", converted
	}
	return th.ID, nil
}

func (c *discordChannel) FetchThread(ctx context.Context, id string) (*Thread, error) {
	ch, err := c.session.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		converted := convertError(err)
		if IsNotFound(converted) {
			return nil, nil
		}
		return nil, converted
	}
	th := &Thread{ID: ch.ID}
	if ch.ThreadMetadata != nil {
		th.Archived = ch.ThreadMetadata.Archived
	}
	return th, nil
}

func (c *discordChannel) SetThreadArchived(ctx context.Context, id string, archived bool) error {
	_, err := c.session.ChannelEdit(id, &discordgo.ChannelEdit{Archived: &archived}, discordgo.WithContext(ctx))
	return convertError(err)
}

func (c *discordChannel) SendToThread(ctx context.Context, threadID, text string) error {
	_, err := c.session.ChannelMessageSend(threadID, truncate(text, 2000), discordgo.WithContext(ctx))
	return convertError(err)
}

func convertError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return err
	}
	apiErr := &APIError{StatusCode: restErr.Response.StatusCode, Message: string(restErr.ResponseBody)}
	if restErr.Message != nil {
		apiErr.Code = restErr.Message.Code
		apiErr.Message = restErr.Message.Message
	}
	return apiErr
}

func toEmbed(a Artifact) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       truncate(a.Title, 256),
		URL:         a.URL,
		Description: truncate(a.Description, 4096),
		Color:       a.Color,
	}
	if !a.Timestamp.IsZero() {
		e.Timestamp = a.Timestamp.UTC().Format(time.RFC3339)
	}
	if a.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: truncate(a.Footer, 2048)}
	}
	for _, f := range a.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:   truncate(f.Name, 256),
			Value:  truncate(f.Value, 1024),
			Inline: f.Inline,
		})
	}
	return e
}

func fromMessage(msg *discordgo.Message) Message {
	m := Message{ID: msg.ID, ChannelID: msg.ChannelID}
	if msg.Thread != nil {
		m.ThreadID = msg.Thread.ID
	}
	for _, e := range msg.Embeds {
		a := Artifact{Title: e.Title, URL: e.URL, Description: e.Description, Color: e.Color}
		if e.Footer != nil {
			a.Footer = e.Footer.Text
		}
		if t, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
			a.Timestamp = t
		}
		for _, f := range e.Fields {
			a.Fields = append(a.Fields, Field{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		m.Artifacts = append(m.Artifacts, a)
	}
	return m
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
