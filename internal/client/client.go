// Package client talks to the scribe web frontend over HTTP and websockets.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ex-scribe/pkg/scribe"
)

const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}

	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Option mutates client configuration.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for plain requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.http = httpClient
		}
	}
}

// WithTimeout bounds every plain HTTP request.
func WithTimeout(timeout time.Duration) Option {
	return func(client *Client) {
		if timeout > 0 {
			client.timeout = timeout
		}
	}
}

// Client is a web frontend client.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
}

// New creates a client for the server base URL.
func New(server string, options ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(server), "/"))
	if err != nil {
		return nil, fmt.Errorf("new client: parse server: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("new client: unsupported scheme %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("new client: server must include host")
	}

	client := &Client{
		base:    base,
		http:    http.DefaultClient,
		timeout: defaultTimeout,
	}
	for _, option := range options {
		option(client)
	}

	return client, nil
}

// FromProfile creates a client configured by profile.
func FromProfile(profile Profile, options ...Option) (*Client, error) {
	options = append([]Option{WithTimeout(profile.Timeout)}, options...)
	return New(profile.Server, options...)
}

type agentsResponse struct {
	Agents []string `json:"agents"`
}

type historyResponse struct {
	Agent    string            `json:"agent"`
	Messages scribe.Transcript `json:"messages"`
}

// Ack is the server reply to a queued edit.
type Ack struct {
	Status  string `json:"status"`
	// Warning is set when the cached transcript had no matching target.
	// The edit is queued regardless.
	Warning string `json:"warning,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Agents lists registered agent ids.
func (c *Client) Agents(ctx context.Context) ([]string, error) {
	var response agentsResponse
	if err := c.do(ctx, http.MethodGet, c.path("agents"), nil, &response); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	return response.Agents, nil
}

// History reads the cached transcript of agentID.
func (c *Client) History(ctx context.Context, agentID string) (scribe.Transcript, error) {
	var response historyResponse
	if err := c.do(ctx, http.MethodGet, c.path("agents", agentID, "history"), nil, &response); err != nil {
		return nil, fmt.Errorf("read history %s: %w", agentID, err)
	}

	return response.Messages, nil
}

// Append queues one message append.
func (c *Client) Append(ctx context.Context, agentID string, message scribe.Message) (Ack, error) {
	body := map[string]string{"role": string(message.Role), "content": message.Content}

	var response Ack
	if err := c.do(ctx, http.MethodPost, c.path("agents", agentID, "messages"), body, &response); err != nil {
		return Ack{}, fmt.Errorf("append message %s: %w", agentID, err)
	}

	return response, nil
}

// Modify queues replacing the content of message index.
func (c *Client) Modify(ctx context.Context, agentID string, index int, content string) (Ack, error) {
	body := map[string]string{"content": content}

	var response Ack
	endpoint := c.path("agents", agentID, "messages", strconv.Itoa(index))
	if err := c.do(ctx, http.MethodPatch, endpoint, body, &response); err != nil {
		return Ack{}, fmt.Errorf("modify message %s[%d]: %w", agentID, index, err)
	}

	return response, nil
}

// Remove queues removing message index.
func (c *Client) Remove(ctx context.Context, agentID string, index int) (Ack, error) {
	var response Ack
	endpoint := c.path("agents", agentID, "messages", strconv.Itoa(index))
	if err := c.do(ctx, http.MethodDelete, endpoint, nil, &response); err != nil {
		return Ack{}, fmt.Errorf("remove message %s[%d]: %w", agentID, index, err)
	}

	return response, nil
}

func (c *Client) path(segments ...string) *url.URL {
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}

	return c.base.JoinPath(escaped...)
}

func (c *Client) do(ctx context.Context, method string, endpoint *url.URL, body any, target any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return decodeAPIError(response)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func decodeAPIError(response *http.Response) error {
	apiErr := &APIError{StatusCode: response.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
	if err != nil {
		return apiErr
	}

	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))

	return apiErr
}
