// Package edgecache is a client for the admin API of a running edge cache.
package edgecache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/lucasew/edgecache/internal/errutil"
)

// DefaultServer is used when neither the caller nor EDGECACHE_SERVER names one.
const DefaultServer = "http://localhost:8080"

// DefaultPrefix is the path the admin API is mounted under.
const DefaultPrefix = "/_edgecache"

var (
	// ErrUnknownTag is returned for a sync tag the server does not know.
	ErrUnknownTag = errors.New("unknown sync tag")

	// ErrNoClients is returned when a click finds no client window.
	ErrNoClients = errors.New("no client windows connected")
)

// HTTPStatusError is returned when the server answers with an unexpected status.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// SyncReport is the outcome of replaying the pending writes of a tag.
type SyncReport struct {
	Tag       string `json:"tag"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Pending   int    `json:"pending"`
}

// PendingWrite is a queued mutation waiting for the origin.
type PendingWrite struct {
	ID        string          `json:"id"`
	Tag       string          `json:"tag"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
}

// Partition is a cache partition and its size.
type Partition struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

// PushMessage is a push notification to show on client windows.
type PushMessage struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	URL   string `json:"url,omitempty"`
}

// PushResult tells how many windows showed a notification.
type PushResult struct {
	Windows int `json:"windows"`
}

type Client struct {
	HTTP   *http.Client
	Server string
	Prefix string
}

// NewClient creates a Client for server. An empty server falls back to
// EDGECACHE_SERVER, then DefaultServer.
func NewClient(client *http.Client, server string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if server == "" {
		server = os.Getenv("EDGECACHE_SERVER")
	}
	if server == "" {
		server = DefaultServer
	}
	return &Client{
		HTTP:   client,
		Server: strings.TrimRight(server, "/"),
		Prefix: DefaultPrefix,
	}
}

// Enqueue stores payload as a pending write under tag and returns its id.
func (c *Client) Enqueue(ctx context.Context, tag string, payload any) (string, error) {
	var res struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/queue/"+url.PathEscape(tag), payload, http.StatusCreated, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// Pending lists the pending writes of tag.
func (c *Client) Pending(ctx context.Context, tag string) ([]PendingWrite, error) {
	var recs []PendingWrite
	err := c.do(ctx, http.MethodGet, "/queue/"+url.PathEscape(tag), nil, http.StatusOK, &recs)
	return recs, err
}

// Sync replays the pending writes of tag now.
func (c *Client) Sync(ctx context.Context, tag string) (SyncReport, error) {
	var report SyncReport
	err := c.do(ctx, http.MethodPost, "/sync/"+url.PathEscape(tag), nil, http.StatusOK, &report)
	return report, err
}

// Push shows a notification on every connected client window.
func (c *Client) Push(ctx context.Context, msg PushMessage) (PushResult, error) {
	var res PushResult
	err := c.do(ctx, http.MethodPost, "/push", msg, http.StatusOK, &res)
	return res, err
}

// Partitions lists the cache partitions.
func (c *Client) Partitions(ctx context.Context) ([]Partition, error) {
	var parts []Partition
	err := c.do(ctx, http.MethodGet, "/partitions", nil, http.StatusOK, &parts)
	return parts, err
}

func (c *Client) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		var data []byte
		switch v := in.(type) {
		case json.RawMessage:
			data = v
		case []byte:
			data = v
		default:
			var err error
			if data, err = json.Marshal(in); err != nil {
				return fmt.Errorf("failed to encode request: %w", err)
			}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Server+c.Prefix+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		errutil.LogMsg(resp.Body.Close(), "Failed to close response body")
	}()

	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Message: e.Error}
		switch {
		case resp.StatusCode == http.StatusNotFound && strings.Contains(e.Error, "unknown sync tag"):
			return fmt.Errorf("%w: %w", ErrUnknownTag, statusErr)
		case resp.StatusCode == http.StatusConflict:
			return fmt.Errorf("%w: %w", ErrNoClients, statusErr)
		}
		return statusErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
