// Package api is the REST side of the chat subsystem: paginated history,
// the mark-read fallback and attachment upload. Every request goes through
// the token authority, so a 401 anywhere triggers the shared single-flight
// refresh.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"chat-client/auth"
	"chat-client/config"
	"chat-client/models"
)

// Upload is one prepared image file. Validation and compression happen
// upstream; by the time a file reaches here it is assumed usable.
type Upload struct {
	Name    string
	Content []byte
}

// envelope matches the server's uniform response shape.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client talks to the chat REST endpoints.
type Client struct {
	base           string
	authority      *auth.Authority
	httpClient     *http.Client
	requestTimeout time.Duration
	uploadTimeout  time.Duration
}

// NewClient builds a REST client from cfg; the authority supplies bearer
// tokens and the refresh discipline.
func NewClient(cfg config.Config, authority *auth.Authority, opts ...ClientOption) *Client {
	c := &Client{
		base:           cfg.APIBaseURL,
		authority:      authority,
		httpClient:     http.DefaultClient,
		requestTimeout: cfg.RequestTimeout,
		uploadTimeout:  cfg.UploadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// GetConversations fetches the viewer's conversation list.
func (c *Client) GetConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := c.getJSON(ctx, c.base+"/conversations", &convs)
	return convs, err
}

// GetMessages fetches one history page for a conversation. Pages are
// numbered from 1 and returned newest-first; the pagination controller is
// responsible for reversing them.
func (c *Client) GetMessages(ctx context.Context, conversationID string, page, limit int) ([]models.Message, error) {
	url := c.base + "/conversations/" + conversationID + "/messages?page=" + strconv.Itoa(page) + "&limit=" + strconv.Itoa(limit)
	var msgs []models.Message
	err := c.getJSON(ctx, url, &msgs)
	return msgs, err
}

// MarkRead reports the conversation read over REST, the fallback when the
// socket is down.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.authority.Do(ctx, func(ctx context.Context, bearer string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/conversations/"+conversationID+"/read", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		return c.httpClient.Do(req)
	})
	if err != nil {
		return err
	}
	defer drain(resp)
	return checkStatus(resp)
}

// UploadImages posts the prepared files as multipart form data and returns
// the stable URLs the server assigned, in input order. Uploads get the
// longer timeout budget.
func (c *Client) UploadImages(ctx context.Context, uploads []Upload) ([]string, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, up := range uploads {
		part, err := writer.CreateFormFile("images", up.Name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(up.Content); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	payload := body.Bytes()

	resp, err := c.authority.Do(ctx, func(ctx context.Context, bearer string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/uploads/chat", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result struct {
		URLs []string `json:"urls"`
	}
	if err := decodeEnvelope(resp.Body, &result); err != nil {
		return nil, err
	}
	return result.URLs, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.authority.Do(ctx, func(ctx context.Context, bearer string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		return c.httpClient.Do(req)
	})
	if err != nil {
		return err
	}
	defer drain(resp)
	if err := checkStatus(resp); err != nil {
		return err
	}
	return decodeEnvelope(resp.Body, out)
}

func decodeEnvelope(r io.Reader, out any) error {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return err
	}
	if env.Code != 0 {
		return fmt.Errorf("api: %s (code %d)", env.Message, env.Code)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Message != "" {
		return fmt.Errorf("api: %s (status %d)", env.Message, resp.StatusCode)
	}
	return fmt.Errorf("api: unexpected status %d", resp.StatusCode)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
