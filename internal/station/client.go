package station

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/reconcile"
)

// accessBatchPath is the server route for access-event batches.
const accessBatchPath = "/api/v1/access-events/batch"

// maxResponseSize bounds a batch response body.
const maxResponseSize = 4 << 20

var (
	// ErrRejected is returned when the server refuses the station's
	// credential (401 or 403). Retrying will not help until it changes.
	ErrRejected = errors.New("server rejected station credential")

	// ErrServer is returned for any other non-200 response.
	ErrServer = errors.New("server error")
)

// Client submits access events to the access server.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
}

// NewClient creates a Client. token is sent as a bearer credential.
func NewClient(baseURL, token, userAgent string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		userAgent: userAgent,
		http:      &http.Client{Timeout: timeout},
	}
}

// SubmitAccessEvents posts a batch and returns per-entry results in
// submission order.
func (c *Client) SubmitAccessEvents(ctx context.Context, entries []reconcile.AuditLogEntry) ([]reconcile.Result, error) {
	body, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+accessBatchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting batch: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
	}

	var results []reconcile.Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(results) != len(entries) {
		return nil, fmt.Errorf("%w: %d results for %d entries", ErrServer, len(results), len(entries))
	}
	return results, nil
}
