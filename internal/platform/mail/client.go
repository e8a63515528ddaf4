package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrSendFailed wraps transport failures and non-2xx responses from the mail API.
var ErrSendFailed = errors.New("mail: send failed")

// Message is a single outbound transactional email.
type Message struct {
	To       string `json:"to"`
	From     string `json:"from"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html"`
}

// Client submits messages to the outbound mail HTTP API.
type Client struct {
	baseURL     string
	apiKey      string
	fromAddress string
	client      *http.Client
}

// Option customises Client construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for mail API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// NewClient constructs a mail client for the given API base URL.
func NewClient(baseURL, apiKey, fromAddress string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("mail: base url is required")
	}
	if strings.TrimSpace(fromAddress) == "" {
		return nil, errors.New("mail: from address is required")
	}

	c := &Client{
		baseURL:     trimmed,
		apiKey:      strings.TrimSpace(apiKey),
		fromAddress: strings.TrimSpace(fromAddress),
		client:      &http.Client{Timeout: 15 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c, nil
}

// Send submits the message. The from address defaults to the client's
// configured sender when unset.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("mail: recipient is required")
	}
	if msg.From == "" {
		msg.From = c.fromAddress
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mail: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mail: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: mail api returned %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}
