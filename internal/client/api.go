// Package client is the consumer side of the realtime service: a connection
// manager with reconnect backoff, a fallback poller, a fetch coordinator and
// a local inbox.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/middleware"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/google/uuid"
)

// APIClient talks to the notification REST API.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// APIOption configures an APIClient.
type APIOption func(*APIClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) APIOption {
	return func(c *APIClient) {
		c.httpClient = client
	}
}

// NewAPIClient creates a client for the server at baseURL. token may be
// empty, in which case list calls return the anonymous empty inbox.
func NewAPIClient(baseURL, token string, opts ...APIOption) *APIClient {
	c := &APIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListOptions selects a page of the inbox.
type ListOptions struct {
	Page       int
	Limit      int
	UnreadOnly bool
	Kind       types.NotificationKind
}

func (o ListOptions) values() url.Values {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.UnreadOnly {
		q.Set("unreadOnly", "true")
	}
	if o.Kind != "" {
		q.Set("type", string(o.Kind))
	}
	return q
}

// List fetches one page of the caller's notifications.
func (c *APIClient) List(ctx context.Context, opts ListOptions) (*types.NotificationListResponse, error) {
	target := c.baseURL + "/v1/notifications"
	if q := opts.values().Encode(); q != "" {
		target += "?" + q
	}
	var out types.NotificationListResponse
	if err := c.do(ctx, http.MethodGet, target, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead marks one notification as read.
func (c *APIClient) MarkRead(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("%s/v1/notifications/%s/read", c.baseURL, id), nil, nil)
}

// MarkAllRead marks every notification as read and returns how many changed.
func (c *APIClient) MarkAllRead(ctx context.Context) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodPatch, c.baseURL+"/v1/notifications/read-all", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Delete removes one notification.
func (c *APIClient) Delete(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/v1/notifications/%s", c.baseURL, id), nil, nil)
}

// DeleteAll removes every notification, or only those of kind when set.
func (c *APIClient) DeleteAll(ctx context.Context, kind types.NotificationKind) (int64, error) {
	target := c.baseURL + "/v1/notifications"
	if kind != "" {
		target += "?type=" + url.QueryEscape(string(kind))
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodDelete, target, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *APIClient) do(ctx context.Context, method, target string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.TransportError(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError turns an error body into an AppError carrying the server's
// type and status.
func decodeError(resp *http.Response) error {
	var body middleware.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)

	errType := apperrors.ErrorType(body.Type)
	if errType == "" {
		errType = apperrors.ServerError
	}
	message := body.Message
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	appErr := apperrors.New(errType, message, body.Detail)
	appErr.HTTPStatus = resp.StatusCode
	return appErr
}
