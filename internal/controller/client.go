package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golnet1/majordomo-bridge/internal/infrastructure/config"
)

// maxResponseBody bounds how much of a controller response is read.
const maxResponseBody = 1 << 20

// Client issues read/write operations against the MajorDoMo property API.
//
// Thread Safety:
//   - All methods are safe for concurrent use; the underlying http.Client
//     handles connection pooling.
type Client struct {
	baseURL    string
	httpClient *http.Client
	attempts   int
	retryDelay time.Duration
}

// New creates a controller client from configuration.
func New(cfg config.ControllerConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		attempts:   cfg.RetryAttempts + 1,
		retryDelay: time.Duration(cfg.RetryDelay) * time.Millisecond,
	}
}

// dataResponse is the JSON envelope MajorDoMo wraps property values in.
type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

// ReadProperty reads object.property and returns its value as a string.
//
// Parameters:
//   - ctx: Context for cancellation; combined with the client timeout
//   - object: Controller object identifier (e.g. "Relay01")
//   - property: Property name (e.g. "status")
//
// Returns:
//   - string: The property value, JSON envelope unwrapped
//   - error: ErrUnreachable, ErrRejected, ErrMalformedResponse or ErrTimeout
func (c *Client) ReadProperty(ctx context.Context, object, property string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/data/%s.%s", object, property), nil)
	if err != nil {
		return "", err
	}
	return unwrapValue(body), nil
}

// WriteProperty sets object.property to value.
func (c *Client) WriteProperty(ctx context.Context, object, property, value string) error {
	payload, err := json.Marshal(map[string]string{"data": value})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	_, err = c.do(ctx, http.MethodPost, fmt.Sprintf("/api/data/%s.%s", object, property), payload)
	return err
}

// RunScript triggers a MajorDoMo scenario by name.
func (c *Client) RunScript(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodGet, "/api/script/"+url.PathEscape(name), nil)
	return err
}

// Say invokes the object's say method for TTS feedback.
func (c *Client) Say(ctx context.Context, object, text string) error {
	path := fmt.Sprintf("/api/method/%s.say?text=%s", object, url.QueryEscape(text))
	_, err := c.do(ctx, http.MethodGet, path, nil)
	return err
}

// ListRooms returns the raw rooms document from the controller.
func (c *Client) ListRooms(ctx context.Context) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/rooms", nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: rooms document is not JSON", ErrMalformedResponse)
	}
	return json.RawMessage(body), nil
}

// GetRoom returns one room's raw document by ID.
func (c *Client) GetRoom(ctx context.Context, id string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: room document is not JSON", ErrMalformedResponse)
	}
	return json.RawMessage(body), nil
}

// HealthCheck verifies the controller answers at all.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/rooms", nil)
	return err
}

// do performs one API call with the retry policy applied.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			// Linear backoff between retries.
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}

		body, err := c.doOnce(ctx, method, path, payload)
		if err == nil {
			return body, nil
		}

		// Semantic rejections and malformed bodies are terminal.
		if errors.Is(err, ErrRejected) || errors.Is(err, ErrMalformedResponse) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrUnreachable, c.attempts, lastErr)
}

// doOnce performs a single HTTP round trip.
func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrMalformedResponse, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	return body, nil
}

// isTimeout reports whether err is a network timeout.
func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// unwrapValue extracts the property value from a response body.
// MajorDoMo usually answers {"data": <value>} but plain-text bodies occur.
func unwrapValue(body []byte) string {
	var envelope dataResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
		var s string
		if err := json.Unmarshal(envelope.Data, &s); err == nil {
			return s
		}
		return strings.TrimSpace(string(envelope.Data))
	}
	return strings.TrimSpace(string(body))
}
