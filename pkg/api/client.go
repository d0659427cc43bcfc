package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ClientConfig holds configuration for the client
type ClientConfig struct {
	Addresses     []string      // List of server addresses
	Timeout       time.Duration // Request timeout
	RetryAttempts int           // Number of retry attempts
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Addresses:     []string{"localhost:8080"},
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
	}
}

// StatusError is returned when the server rejects a request. Requests
// failing with a 4xx status are not retried.
type StatusError struct {
	Status  int
	Kind    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned status %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

// Client talks to a cradle server over HTTP
type Client struct {
	config     *ClientConfig
	httpClient *http.Client

	mu          sync.Mutex
	serverIndex int // For round-robin server selection
}

// NewClient creates a new client instance
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Close releases idle connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// selectServer selects a server using round-robin
func (c *Client) selectServer() string {
	if len(c.config.Addresses) == 0 {
		return "localhost:8080"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	addr := c.config.Addresses[c.serverIndex]
	c.serverIndex = (c.serverIndex + 1) % len(c.config.Addresses)
	return addr
}

// do sends the request, moving to the next server after a network error or
// a 5xx status.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	var body []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}

		target := "http://" + c.selectServer() + path
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 300 {
			statusErr := readStatusError(resp)
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return statusErr
			}
			lastErr = statusErr
			continue
		}

		if out == nil {
			resp.Body.Close()
			return nil
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("failed to %s %s after %d attempts: %w", method, path, c.config.RetryAttempts+1, lastErr)
}

func readStatusError(resp *http.Response) *StatusError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var er ErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error != "" {
		return &StatusError{Status: resp.StatusCode, Kind: er.Kind, Message: er.Error}
	}
	return &StatusError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
}

// AddBook creates a book with its first page
func (c *Client) AddBook(ctx context.Context, req *AddBookRequest) (*Book, error) {
	var b Book
	if err := c.do(ctx, http.MethodPost, "/books", nil, req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Books lists all known books
func (c *Client) Books(ctx context.Context) ([]Book, error) {
	var books []Book
	if err := c.do(ctx, http.MethodGet, "/books", nil, nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

// Book returns a single book with its pages
func (c *Client) Book(ctx context.Context, name string) (*Book, error) {
	var b Book
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(name), nil, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// SwitchPage closes the active page of the book and opens a new one
func (c *Client) SwitchPage(ctx context.Context, bookName string, req *SwitchPageRequest) (*Book, error) {
	var b Book
	if err := c.do(ctx, http.MethodPost, "/books/"+url.PathEscape(bookName)+"/pages", nil, req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// StoreMessages writes the messages as one batch
func (c *Client) StoreMessages(ctx context.Context, bookName string, messages []Message) (*StoreResponse, error) {
	var resp StoreResponse
	req := &StoreMessagesRequest{Messages: messages}
	if err := c.do(ctx, http.MethodPost, "/books/"+url.PathEscape(bookName)+"/messages", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Messages reads the messages selected by q
func (c *Client) Messages(ctx context.Context, bookName string, q MessageQuery) (*MessagesResponse, error) {
	params := url.Values{}
	params.Set("session", q.SessionAlias)
	params.Set("direction", q.Direction)
	setTimeParams(params, q.Page, q.From, q.To, q.Limit)
	if q.AfterSequence != nil {
		params.Set("after_sequence", strconv.FormatInt(*q.AfterSequence, 10))
	}
	var resp MessagesResponse
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(bookName)+"/messages", params, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sessions lists the session aliases written to the book
func (c *Client) Sessions(ctx context.Context, bookName string) ([]string, error) {
	var sessions []string
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(bookName)+"/sessions", nil, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// StoreEvent writes a single test event
func (c *Client) StoreEvent(ctx context.Context, bookName string, e *Event) (*StoreResponse, error) {
	var resp StoreResponse
	if err := c.do(ctx, http.MethodPost, "/books/"+url.PathEscape(bookName)+"/events", nil, e, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events reads the test events selected by q
func (c *Client) Events(ctx context.Context, bookName string, q EventQuery) (*EventsResponse, error) {
	params := url.Values{}
	params.Set("scope", q.Scope)
	setTimeParams(params, q.Page, q.From, q.To, q.Limit)
	if q.ParentID != "" {
		params.Set("parent", q.ParentID)
	}
	var resp EventsResponse
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(bookName)+"/events", params, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Scopes lists the event scopes written to the book
func (c *Client) Scopes(ctx context.Context, bookName string) ([]string, error) {
	var scopes []string
	if err := c.do(ctx, http.MethodGet, "/books/"+url.PathEscape(bookName)+"/scopes", nil, nil, &scopes); err != nil {
		return nil, err
	}
	return scopes, nil
}

// Health checks that the server is up
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func setTimeParams(params url.Values, page string, from, to time.Time, limit int) {
	if page != "" {
		params.Set("page", page)
	}
	if !from.IsZero() {
		params.Set("from", from.UTC().Format(time.RFC3339Nano))
	}
	if !to.IsZero() {
		params.Set("to", to.UTC().Format(time.RFC3339Nano))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
}
