// Package httpgps reads positions from a device GPS bridge that exposes the
// receiver over HTTP (phone companion app, gpsd-to-HTTP gateway).
package httpgps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/freshbasket/livetrack/internal/integrations/geolocation"
	"github.com/freshbasket/livetrack/internal/models"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	httpc        *http.Client
}

func New(baseURL, apiKey string, pollInterval time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		pollInterval: pollInterval,
		httpc:        &http.Client{},
	}
}

type positionBody struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

type permissionBody struct {
	State string `json:"state"`
}

func (c *Client) endpoint(path string, q url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = path
	if q == nil {
		q = url.Values{}
	}
	if c.apiKey != "" {
		q.Set("apiKey", c.apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) Permission(ctx context.Context) (geolocation.Permission, error) {
	u, err := c.endpoint("/v1/permission", nil)
	if err != nil {
		return geolocation.PermissionPrompt, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return geolocation.PermissionPrompt, errors.Wrap(err, "new request")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return geolocation.PermissionPrompt, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return geolocation.PermissionPrompt, fmt.Errorf("gps bridge http %d", resp.StatusCode)
	}
	var pb permissionBody
	if err := json.NewDecoder(resp.Body).Decode(&pb); err != nil {
		return geolocation.PermissionPrompt, errors.Wrap(err, "decode")
	}
	switch geolocation.Permission(pb.State) {
	case geolocation.PermissionGranted, geolocation.PermissionDenied:
		return geolocation.Permission(pb.State), nil
	}
	return geolocation.PermissionPrompt, nil
}

func (c *Client) CurrentPosition(ctx context.Context, opts geolocation.Options) (models.Fix, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	q := url.Values{}
	if opts.HighAccuracy {
		q.Set("accuracy", "high")
	} else {
		q.Set("accuracy", "low")
	}
	if opts.MaximumAge > 0 {
		q.Set("maxAgeMs", fmt.Sprintf("%d", opts.MaximumAge.Milliseconds()))
	}
	u, err := c.endpoint("/v1/position", q)
	if err != nil {
		return models.Fix{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.Fix{}, errors.Wrap(err, "new request")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return models.Fix{}, geolocation.NewError(geolocation.CodeTimeout, err.Error())
		}
		return models.Fix{}, geolocation.NewError(geolocation.CodeUnknown, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return models.Fix{}, geolocation.NewError(geolocation.CodePermissionDenied, "gps bridge refused access")
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusNotFound:
		return models.Fix{}, geolocation.NewError(geolocation.CodePositionUnavailable, fmt.Sprintf("gps bridge http %d", resp.StatusCode))
	case resp.StatusCode == http.StatusGatewayTimeout:
		return models.Fix{}, geolocation.NewError(geolocation.CodeTimeout, "gps bridge timed out")
	case resp.StatusCode/100 != 2:
		return models.Fix{}, geolocation.NewError(geolocation.CodeUnknown, fmt.Sprintf("gps bridge http %d", resp.StatusCode))
	}

	var pb positionBody
	if err := json.NewDecoder(resp.Body).Decode(&pb); err != nil {
		return models.Fix{}, geolocation.NewError(geolocation.CodeUnknown, "decode: "+err.Error())
	}
	captured := pb.Timestamp
	if captured.IsZero() {
		captured = time.Now().UTC()
	}
	return models.Fix{
		Latitude:       pb.Latitude,
		Longitude:      pb.Longitude,
		AccuracyMeters: pb.Accuracy,
		CapturedAt:     captured,
	}, nil
}

// Watch polls the bridge every pollInterval and forwards each result, fix or error.
func (c *Client) Watch(ctx context.Context, opts geolocation.Options) (geolocation.Watch, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := &pollWatch{ch: make(chan geolocation.Event, 1), cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		defer close(w.ch)
		t := time.NewTicker(c.pollInterval)
		defer t.Stop()
		for {
			fix, err := c.CurrentPosition(ctx, opts)
			if ctx.Err() != nil {
				return
			}
			ev := geolocation.Event{Err: err}
			if err == nil {
				ev.Fix = &fix
			}
			select {
			case w.ch <- ev:
			case <-ctx.Done():
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return w, nil
}

type pollWatch struct {
	ch     chan geolocation.Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (w *pollWatch) Events() <-chan geolocation.Event { return w.ch }

// Stop returns once the poller has exited and no bridge request is in flight.
func (w *pollWatch) Stop() {
	w.once.Do(w.cancel)
	<-w.done
}
