package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/freshbasket/livetrack/config"
	"github.com/freshbasket/livetrack/internal/models"
	"github.com/freshbasket/livetrack/internal/services/viewer"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	snap  *models.TrackingSnapshot
}

func (f *fakeFetcher) GetTrackingSnapshot(_ context.Context, orderID string) (*models.TrackingSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	s := *f.snap
	s.OrderID = orderID
	return &s, nil
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) lines() []viewer.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []viewer.View
	sc := bufio.NewScanner(bytes.NewReader(s.b.Bytes()))
	for sc.Scan() {
		var v viewer.View
		if json.Unmarshal(sc.Bytes(), &v) == nil {
			out = append(out, v)
		}
	}
	return out
}

func TestParseFlags(t *testing.T) {
	_, err := parseFlags(nil, config.ViewerConfig{})
	require.Error(t, err)

	opts, err := parseFlags([]string{"-order", "ORD-100"}, config.ViewerConfig{})
	require.NoError(t, err)
	require.Equal(t, "ORD-100", opts.orderID)
	require.Equal(t, "http://localhost:8080", opts.apiBaseURL)
	require.Equal(t, 10*time.Second, opts.interval)

	opts, err = parseFlags([]string{"-order", "ORD-1", "-interval", "2s", "-once"},
		config.ViewerConfig{APIBaseURL: "http://api:8080", FetchTimeoutSeconds: 3})
	require.NoError(t, err)
	require.Equal(t, "http://api:8080", opts.apiBaseURL)
	require.Equal(t, 2*time.Second, opts.interval)
	require.Equal(t, 3*time.Second, opts.fetchTimeout)
	require.True(t, opts.once)
}

func TestRunViewer_Once(t *testing.T) {
	f := &fakeFetcher{snap: &models.TrackingSnapshot{Status: models.OrderStatusProcessing}}
	var out syncBuffer

	err := runViewer(context.Background(), viewerOpts{orderID: "ORD-100", interval: time.Hour, fetchTimeout: time.Second, once: true}, f, &out)
	require.NoError(t, err)

	views := out.lines()
	require.Len(t, views, 1)
	require.False(t, views[0].TrackingAvailable)
	require.Equal(t, viewer.PlaceholderText, views[0].Placeholder)
	require.Equal(t, 1, f.calls)
}

func TestRunViewer_StreamsUntilCanceled(t *testing.T) {
	f := &fakeFetcher{snap: &models.TrackingSnapshot{
		Status:           models.OrderStatusShipped,
		TrackingEnabled:  true,
		StoreLocation:    &models.Place{Latitude: 9.15, Longitude: 77.85},
		AgentLocation:    &models.Place{Latitude: 9.17, Longitude: 77.87},
		DeliveryLocation: &models.Place{Latitude: 9.20, Longitude: 77.90},
	}}
	var out syncBuffer
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- runViewer(ctx, viewerOpts{orderID: "ORD-100", interval: 20 * time.Millisecond, fetchTimeout: time.Second}, f, &out)
	}()

	require.Eventually(t, func() bool { return len(out.lines()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	v := out.lines()[0]
	require.True(t, v.TrackingAvailable)
	require.NotNil(t, v.Map)
	require.Len(t, v.Map.Route, 3)
}
