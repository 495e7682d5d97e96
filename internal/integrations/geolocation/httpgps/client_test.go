package httpgps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/freshbasket/livetrack/internal/faults"
	"github.com/freshbasket/livetrack/internal/integrations/geolocation"
	"github.com/stretchr/testify/require"
)

func TestClient_CurrentPosition_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/position", r.URL.Path)
		require.Equal(t, "low", r.URL.Query().Get("accuracy"))
		require.Equal(t, "k", r.URL.Query().Get("apiKey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"latitude":9.17,"longitude":77.87,"accuracy":25,"timestamp":"2025-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", time.Second)
	fix, err := c.CurrentPosition(context.Background(), geolocation.DefaultOptions().Relaxed())
	require.NoError(t, err)
	require.Equal(t, 9.17, fix.Latitude)
	require.Equal(t, 77.87, fix.Longitude)
	require.Equal(t, 25.0, fix.AccuracyMeters)
	require.WithinDuration(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), fix.CapturedAt, time.Second)
}

func TestClient_CurrentPosition_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   faults.Kind
	}{
		{http.StatusForbidden, faults.PermissionDenied},
		{http.StatusServiceUnavailable, faults.PositionUnavailable},
		{http.StatusGatewayTimeout, faults.AcquisitionTimeout},
		{http.StatusInternalServerError, faults.Unknown},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := New(srv.URL, "", time.Second)
		_, err := c.CurrentPosition(context.Background(), geolocation.DefaultOptions())
		require.Error(t, err)
		require.Equal(t, tc.kind, geolocation.Classify(err).Kind, "status %d", tc.status)
		srv.Close()
	}
}

func TestClient_CurrentPosition_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	opts := geolocation.DefaultOptions()
	opts.Timeout = 20 * time.Millisecond
	_, err := c.CurrentPosition(context.Background(), opts)
	require.True(t, geolocation.IsTimeout(err))
}

func TestClient_Permission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/permission", r.URL.Path)
		_, _ = w.Write([]byte(`{"state":"denied"}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL, "", 0).Permission(context.Background())
	require.NoError(t, err)
	require.Equal(t, geolocation.PermissionDenied, p)
}

func TestClient_Watch_ForwardsFixesAndErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"latitude":1,"longitude":2,"accuracy":5}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", 5*time.Millisecond)
	w, err := c.Watch(context.Background(), geolocation.DefaultOptions())
	require.NoError(t, err)
	defer w.Stop()

	ev := <-w.Events()
	require.NotNil(t, ev.Fix)
	require.Equal(t, 1.0, ev.Fix.Latitude)

	ev = <-w.Events()
	require.Nil(t, ev.Fix)
	require.Equal(t, faults.PositionUnavailable, geolocation.Classify(ev.Err).Kind)
}

func TestClient_Watch_StopWaitsForInFlightPoll(t *testing.T) {
	inFlight := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case inFlight <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	w, err := New(srv.URL, "", time.Hour).Watch(context.Background(), geolocation.Options{HighAccuracy: true})
	require.NoError(t, err)

	select {
	case <-inFlight:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge was never polled")
	}
	w.Stop()

	select {
	case _, ok := <-w.Events():
		require.False(t, ok)
	default:
		t.Fatal("poller still running after Stop")
	}
	w.Stop()
}
