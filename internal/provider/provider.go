// Package provider wraps the email provider's HTTP API. The rest of the
// codebase only sees the EmailProvider interface; the concrete client is a
// black box that can be swapped out in tests.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is one transactional email in a batch call.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// SendResult is the per-email outcome of a batch call, correlated back to
// the recipient by email address.
type SendResult struct {
	Email     string
	MessageID string
	Err       string
}

// Broadcast is a provider-native one-to-many send against an audience.
type Broadcast struct {
	AudienceID string `json:"audience_id"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	HTML       string `json:"html"`
}

// BroadcastResult reports what the provider did with a broadcast send.
type BroadcastResult struct {
	BroadcastID    string
	RecipientCount int
}

type EmailProvider interface {
	SendBatch(ctx context.Context, messages []Message) ([]SendResult, error)
	SendBroadcast(ctx context.Context, b Broadcast) (*BroadcastResult, error)
}

// Client talks to a Resend-style REST API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type batchResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// SendBatch posts all messages in one call. The provider answers with ids in
// request order, so results are zipped back onto the input messages.
func (c *Client) SendBatch(ctx context.Context, messages []Message) ([]SendResult, error) {
	var resp batchResponse
	if err := c.post(ctx, "/emails/batch", messages, &resp); err != nil {
		return nil, err
	}

	results := make([]SendResult, len(messages))
	for i, m := range messages {
		results[i] = SendResult{Email: m.To[0]}
		if i < len(resp.Data) {
			results[i].MessageID = resp.Data[i].ID
		} else {
			results[i].Err = "no message id returned by provider"
		}
	}
	return results, nil
}

type broadcastResponse struct {
	ID             string `json:"id"`
	RecipientCount int    `json:"recipient_count"`
}

func (c *Client) SendBroadcast(ctx context.Context, b Broadcast) (*BroadcastResult, error) {
	var created broadcastResponse
	if err := c.post(ctx, "/broadcasts", b, &created); err != nil {
		return nil, err
	}

	var sent broadcastResponse
	path := fmt.Sprintf("/broadcasts/%s/send", created.ID)
	if err := c.post(ctx, path, struct{}{}, &sent); err != nil {
		return nil, err
	}
	if sent.RecipientCount == 0 {
		sent.RecipientCount = created.RecipientCount
	}
	return &BroadcastResult{BroadcastID: created.ID, RecipientCount: sent.RecipientCount}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

var _ EmailProvider = (*Client)(nil)
