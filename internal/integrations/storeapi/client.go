// Package storeapi is the HTTP client for the tracking backend, used by the
// agent publisher and the customer viewer.
package storeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/freshbasket/livetrack/internal/faults"
	"github.com/freshbasket/livetrack/internal/models"
	"github.com/pkg/errors"
)

// AgentHeader carries the authenticated agent id set by the gateway.
const AgentHeader = "X-Agent-ID"

// ErrOrderNotFound is returned for 404 responses.
var ErrOrderNotFound = models.ErrOrderNotFound

// APIError is a non-retryable rejection from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracking api http %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	agentID string
	httpc   *http.Client
}

func New(baseURL, agentID string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		agentID: agentID,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.agentID != "" {
		req.Header.Set(AgentHeader, c.agentID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return faults.Network(errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrOrderNotFound
		case resp.StatusCode == http.StatusConflict:
			return errors.Wrap(models.ErrOrderNotTrackable, eb.Error)
		case resp.StatusCode == http.StatusForbidden && eb.Error == models.ErrNotAssigned.Error():
			return models.ErrNotAssigned
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return faults.New(faults.NetworkFailure, fmt.Errorf("tracking api http %d: %s", resp.StatusCode, eb.Error))
		default:
			return &APIError{StatusCode: resp.StatusCode, Message: eb.Error}
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return faults.Network(errors.Wrap(err, "decode"))
	}
	return nil
}

func (c *Client) PublishLocation(ctx context.Context, upd models.AgentCoordinateUpdate) error {
	return c.do(ctx, http.MethodPost, "/orders/agent/location", upd, nil)
}

func (c *Client) GetTrackingSnapshot(ctx context.Context, orderID string) (*models.TrackingSnapshot, error) {
	var snap models.TrackingSnapshot
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/track", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) GetAgentOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	if err := c.do(ctx, http.MethodGet, "/agent/orders/"+url.PathEscape(orderID), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

type ordersBody struct {
	Orders []*models.Order `json:"orders"`
}

func (c *Client) ListAgentOrders(ctx context.Context) ([]*models.Order, error) {
	var ob ordersBody
	if err := c.do(ctx, http.MethodGet, "/agent/orders", nil, &ob); err != nil {
		return nil, err
	}
	return ob.Orders, nil
}

type statusBody struct {
	Status string `json:"status"`
}

func (c *Client) UpdateOrderStatus(ctx context.Context, orderID, status string) (*models.Order, error) {
	var o models.Order
	if err := c.do(ctx, http.MethodPatch, "/agent/orders/"+url.PathEscape(orderID)+"/status", statusBody{Status: status}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
