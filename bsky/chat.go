package bsky

import (
	"context"
	"fmt"

	"github.com/bluesky-social/indigo/xrpc"

	"github.com/bskygeo/listkeeper/models"
)

type convoMember struct {
	Did         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

type listConvosOutput struct {
	Cursor string `json:"cursor"`
	Convos []struct {
		ID          string        `json:"id"`
		Members     []convoMember `json:"members"`
		LastMessage *struct {
			Text string `json:"text"`
		} `json:"lastMessage"`
	} `json:"convos"`
}

type getMessagesOutput struct {
	Cursor   string `json:"cursor"`
	Messages []struct {
		Text   string `json:"text"`
		SentAt string `json:"sentAt"`
		Sender struct {
			Did string `json:"did"`
		} `json:"sender"`
	} `json:"messages"`
}

// chatClient shares the session but routes requests through the chat
// service proxy.
func (c *Client) chatClient() *xrpc.Client {
	return &xrpc.Client{
		Client:    c.xrpcc.Client,
		Auth:      c.xrpcc.Auth,
		Host:      c.xrpcc.Host,
		UserAgent: c.xrpcc.UserAgent,
		Headers: map[string]string{
			"atproto-proxy": c.chatProxy,
		},
	}
}

// ListConvos returns the most recent direct message conversations. The app
// password must have been created with DM access.
func (c *Client) ListConvos(ctx context.Context, limit int) ([]models.Conversation, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	var out listConvosOutput
	err := c.call(ctx, "listConvos", func(ctx context.Context) error {
		out = listConvosOutput{}
		return c.chatClient().Do(ctx, xrpc.Query, "", "chat.bsky.convo.listConvos", map[string]any{"limit": limit}, nil, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access direct messages, does the app password allow DMs? %w", err)
	}

	convos := make([]models.Conversation, 0, len(out.Convos))
	for _, cv := range out.Convos {
		conv := models.Conversation{ID: cv.ID}
		for _, m := range cv.Members {
			conv.Members = append(conv.Members, models.Profile{
				DID:         m.Did,
				Handle:      m.Handle,
				DisplayName: m.DisplayName,
			})
		}
		if cv.LastMessage != nil {
			conv.LastMessage = cv.LastMessage.Text
		}
		convos = append(convos, conv)
	}
	return convos, nil
}

// GetMessages returns the newest messages of a conversation, newest first.
// Deleted messages carry no text and are skipped.
func (c *Client) GetMessages(ctx context.Context, convoID string, limit int) ([]models.Message, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	var out getMessagesOutput
	err := c.call(ctx, "getMessages", func(ctx context.Context) error {
		out = getMessagesOutput{}
		params := map[string]any{
			"convoId": convoID,
			"limit":   limit,
		}
		return c.chatClient().Do(ctx, xrpc.Query, "", "chat.bsky.convo.getMessages", params, nil, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation %s: %w", convoID, err)
	}

	var msgs []models.Message
	for _, m := range out.Messages {
		if m.Text == "" {
			continue
		}
		msgs = append(msgs, models.Message{
			SenderDID: m.Sender.Did,
			Text:      m.Text,
			SentAt:    m.SentAt,
		})
	}
	return msgs, nil
}
