package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nkkko/docsync/pkg/proto"
)

// Client reads documents from an HTTP document service: a JSON listing
// endpoint plus one websocket stream per document
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
	dialer     *websocket.Dialer
	timeout    time.Duration
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithTimeout sets the request and websocket handshake timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
		c.httpClient.Timeout = timeout
	}
}

// WithClientID identifies this client to the service
func WithClientID(clientID string) ClientOption {
	return func(c *Client) {
		c.headers.Set("X-Client-ID", clientID)
	}
}

// WithHeaders sets additional HTTP headers sent on every request and handshake
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a new document service client
func New(baseURL string, options ...ClientOption) *Client {
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set("X-Client-ID", "docsync")

	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		headers:    headers,
		timeout:    10 * time.Second,
	}

	for _, option := range options {
		option(client)
	}

	client.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: client.timeout,
	}

	return client
}

// ListDocuments fetches every document of collection
func (c *Client) ListDocuments(ctx context.Context, collection string) ([]*proto.Document, error) {
	resp, err := c.do(ctx, http.MethodGet, path.Join("collections", collection, "documents"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var response proto.ListDocumentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	for _, doc := range response.Documents {
		if doc != nil && doc.Collection == "" {
			doc.Collection = collection
		}
	}
	return response.Documents, nil
}

// Subscribe opens the change stream of collection/id. The stream lives until
// ctx is done or Stop is called.
func (c *Client) Subscribe(ctx context.Context, collection, id string) (*Stream, error) {
	u, err := c.endpoint(path.Join("collections", collection, "documents", id, "stream"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), c.headers.Clone())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to WebSocket (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	s := newStream(conn, collection)
	go s.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	return s, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) endpoint(p string) (*url.URL, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path.Join("/", u.Path, p)
	u.RawPath = ""
	return u, nil
}

// do makes an HTTP request and maps error statuses to errors
func (c *Client) do(ctx context.Context, method, p string) (*http.Response, error) {
	u, err := c.endpoint(p)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)

		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error)
		}

		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, resp.Status)
	}

	return resp, nil
}
