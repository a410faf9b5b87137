// Package chat wraps the chat platform API behind the narrow set of
// operations the core needs: announcement posting/updating, pinning,
// threaded comments, direct messages and channel management.
package chat

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

// Message is a chat message body: plain text, rich attachments, or both.
type Message struct {
	Text        string
	Attachments []slack.Attachment
}

// Client is the process-wide chat handle. It is constructed once at startup
// and injected into the reconciler and the sweeps.
type Client struct {
	api    *slack.Client
	logger *logrus.Logger
}

// NewClient wraps an API client.
func NewClient(api *slack.Client, logger *logrus.Logger) *Client {
	return &Client{api: api, logger: logger}
}

func (m Message) options() []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionAsUser(true)}
	if m.Text != "" {
		opts = append(opts, slack.MsgOptionText(m.Text, false))
	}
	if len(m.Attachments) > 0 {
		opts = append(opts, slack.MsgOptionAttachments(m.Attachments...))
	}
	return opts
}

// PostMessage posts a new message and returns its timestamp id.
func (c *Client) PostMessage(channelID string, msg Message) (string, error) {
	_, ts, err := c.api.PostMessage(channelID, msg.options()...)
	if err != nil {
		return "", fmt.Errorf("posting message to %s: %w", channelID, err)
	}
	return ts, nil
}

// UpdateMessage rewrites an existing message in place.
func (c *Client) UpdateMessage(channelID, ts string, msg Message) error {
	_, _, _, err := c.api.UpdateMessage(channelID, ts, msg.options()...)
	if err != nil {
		return fmt.Errorf("updating message %s in %s: %w", ts, channelID, err)
	}
	return nil
}

// PostThreadReply posts a comment threaded under an existing message.
func (c *Client) PostThreadReply(channelID, threadTS, text string) error {
	_, _, err := c.api.PostMessage(channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
		slack.MsgOptionAsUser(true),
	)
	if err != nil {
		return fmt.Errorf("posting thread reply in %s: %w", channelID, err)
	}
	return nil
}

// GetPermalink resolves the shareable URL of a posted message.
func (c *Client) GetPermalink(channelID, ts string) (string, error) {
	permalink, err := c.api.GetPermalink(&slack.PermalinkParameters{
		Channel: channelID,
		Ts:      ts,
	})
	if err != nil {
		return "", fmt.Errorf("resolving permalink for %s in %s: %w", ts, channelID, err)
	}
	return permalink, nil
}

// Pin pins a message in its channel.
func (c *Client) Pin(channelID, ts string) error {
	return c.api.AddPin(channelID, slack.NewRefToMessage(channelID, ts))
}

// Unpin removes a message pin. An "not pinned" response is not an error for
// the caller's purposes; reconciliation may unpin more than once.
func (c *Client) Unpin(channelID, ts string) error {
	return c.api.RemovePin(channelID, slack.NewRefToMessage(channelID, ts))
}

// SendDirectMessage opens (or reuses) the direct-message channel with a user
// and posts to it.
func (c *Client) SendDirectMessage(userID string, msg Message) error {
	channel, _, _, err := c.api.OpenConversation(&slack.OpenConversationParameters{
		Users: []string{userID},
	})
	if err != nil {
		return fmt.Errorf("opening direct message with %s: %w", userID, err)
	}
	if _, err := c.PostMessage(channel.ID, msg); err != nil {
		return fmt.Errorf("posting direct message to %s: %w", userID, err)
	}
	return nil
}

// CreateChannel creates a new public channel and returns its id.
func (c *Client) CreateChannel(name string) (string, error) {
	channel, err := c.api.CreateConversation(slack.CreateConversationParams{ChannelName: name})
	if err != nil {
		return "", fmt.Errorf("creating channel %s: %w", name, err)
	}
	return channel.ID, nil
}

// InviteToChannel invites users into a channel. Failures are reported but the
// channel itself remains usable.
func (c *Client) InviteToChannel(channelID string, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	if _, err := c.api.InviteUsersToConversation(channelID, userIDs...); err != nil {
		return fmt.Errorf("inviting users to %s: %w", channelID, err)
	}
	return nil
}

// ListChannels returns one page of channels plus the cursor of the next page.
// An empty cursor means the listing is complete.
func (c *Client) ListChannels(cursor string) ([]slack.Channel, string, error) {
	channels, next, err := c.api.GetConversations(&slack.GetConversationsParameters{
		Cursor: cursor,
		Limit:  200,
	})
	if err != nil {
		return nil, "", fmt.Errorf("listing channels: %w", err)
	}
	return channels, next, nil
}

// ListUsers returns the full workspace member list, paging internally.
func (c *Client) ListUsers() ([]slack.User, error) {
	users, err := c.api.GetUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// Ping verifies API connectivity.
func (c *Client) Ping() error {
	_, err := c.api.AuthTest()
	return err
}
