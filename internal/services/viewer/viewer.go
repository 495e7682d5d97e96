// Package viewer keeps a customer's live view of one order up to date.
package viewer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freshbasket/livetrack/internal/faults"
	"github.com/freshbasket/livetrack/internal/geo"
	"github.com/freshbasket/livetrack/internal/models"
	"github.com/pkg/errors"
)

const PlaceholderText = "Live tracking is not yet available for this order."

type Fetcher interface {
	GetTrackingSnapshot(ctx context.Context, orderID string) (*models.TrackingSnapshot, error)
}

// View is what a renderer shows. With TrackingAvailable false, Placeholder is
// shown instead of Map.
type View struct {
	OrderID           string                `json:"orderId"`
	Status            string                `json:"status,omitempty"`
	TrackingAvailable bool                  `json:"trackingAvailable"`
	Placeholder       string                `json:"placeholder,omitempty"`
	Map               *geo.MapView          `json:"map,omitempty"`
	AssignedAgent     *models.AssignedAgent `json:"assignedAgent,omitempty"`
	AgentUpdatedAt    *time.Time            `json:"agentUpdatedAt,omitempty"`
	ErrorMessage      string                `json:"errorMessage,omitempty"`
	CanRetry          bool                  `json:"canRetry"`
	Stale             bool                  `json:"stale"`
	UpdatedAt         *time.Time            `json:"updatedAt,omitempty"`
	AutoRefresh       bool                  `json:"autoRefresh"`
}

type Viewer struct {
	fetcher      Fetcher
	policy       *Policy
	fetchTimeout time.Duration
	labels       geo.Labels
	fallback     models.Coordinate

	mu       sync.Mutex
	orderID  string
	auto     bool
	view     View
	hasSnap  bool
	onUpdate func(View)
	cancel   context.CancelFunc
	done     chan struct{}

	triggerCh chan struct{}

	totalFetches  atomic.Int64
	totalFailures atomic.Int64
	lastFetchNano atomic.Int64
}

func New(f Fetcher) *Viewer {
	return &Viewer{
		fetcher:      f,
		policy:       NewPolicy(DefaultPolicyConfig()),
		fetchTimeout: 10 * time.Second,
		labels:       geo.DefaultLabels(),
		fallback:     geo.DefaultCenter,
		auto:         true,
		triggerCh:    make(chan struct{}, 1),
	}
}

func (v *Viewer) WithSettings(interval, fetchTimeout time.Duration) *Viewer {
	cfg := DefaultPolicyConfig()
	cfg.Interval = interval
	v.policy = NewPolicy(cfg)
	if fetchTimeout > 0 {
		v.fetchTimeout = fetchTimeout
	}
	return v
}

func (v *Viewer) WithPolicy(cfg PolicyConfig) *Viewer {
	v.policy = NewPolicy(cfg)
	return v
}

func (v *Viewer) WithMap(labels geo.Labels, fallback models.Coordinate) *Viewer {
	v.labels = labels
	v.fallback = fallback
	return v
}

// OnUpdate registers a callback that receives every newly rendered view.
func (v *Viewer) OnUpdate(fn func(View)) *Viewer {
	v.onUpdate = fn
	return v
}

// Open fetches one snapshot for orderID right away and starts the refresh
// loop. Opening another order closes the current one first.
func (v *Viewer) Open(ctx context.Context, orderID string) error {
	if orderID == "" {
		return errors.New("orderId is required")
	}
	v.Close()
	// A refresh requested for the previous order does not carry over.
	select {
	case <-v.triggerCh:
	default:
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	v.mu.Lock()
	v.orderID = orderID
	v.hasSnap = false
	v.view = View{OrderID: orderID, AutoRefresh: v.auto}
	v.cancel = cancel
	v.done = done
	v.mu.Unlock()

	v.fetch(loopCtx, orderID)
	go v.loop(loopCtx, orderID, done)
	return nil
}

// Close stops the refresh loop and waits for it to exit.
func (v *Viewer) Close() {
	v.mu.Lock()
	cancel, done := v.cancel, v.done
	v.cancel, v.done = nil, nil
	v.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (v *Viewer) SetAutoRefresh(on bool) {
	v.mu.Lock()
	v.auto = on
	v.view.AutoRefresh = on
	view := v.view
	v.mu.Unlock()
	v.notify(view)
}

// Refresh asks for an immediate fetch (best-effort, non-blocking).
func (v *Viewer) Refresh() {
	select {
	case v.triggerCh <- struct{}{}:
	default:
	}
}

func (v *Viewer) View() View {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.view
}

func (v *Viewer) loop(ctx context.Context, orderID string, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(v.policy.Interval())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			v.mu.Lock()
			poll := v.policy.ShouldPoll(v.view.Status, v.auto)
			v.mu.Unlock()
			if poll {
				v.fetch(ctx, orderID)
			}
		case <-v.triggerCh:
			v.fetch(ctx, orderID)
		}
	}
}

func (v *Viewer) fetch(ctx context.Context, orderID string) {
	fctx, cancel := context.WithTimeout(ctx, v.fetchTimeout)
	defer cancel()

	v.totalFetches.Add(1)
	snap, err := v.fetcher.GetTrackingSnapshot(fctx, orderID)
	if ctx.Err() != nil {
		return
	}
	now := time.Now().UTC()
	v.lastFetchNano.Store(now.UnixNano())

	v.mu.Lock()
	if v.orderID != orderID {
		v.mu.Unlock()
		return
	}
	if err != nil {
		v.totalFailures.Add(1)
		v.view.ErrorMessage = fetchErrorMessage(err)
		v.view.CanRetry = true
		v.view.Stale = v.hasSnap
		v.view.AutoRefresh = v.auto
		view := v.view
		v.mu.Unlock()
		slog.Warn("fetch tracking snapshot", "order_id", orderID, "error", err.Error())
		v.notify(view)
		return
	}
	v.view = Render(snap, v.labels, v.fallback)
	v.view.OrderID = orderID
	v.view.UpdatedAt = &now
	v.view.AutoRefresh = v.auto
	v.hasSnap = true
	view := v.view
	v.mu.Unlock()
	v.notify(view)
}

func (v *Viewer) notify(view View) {
	if v.onUpdate != nil {
		v.onUpdate(view)
	}
}

func fetchErrorMessage(err error) string {
	if errors.Is(err, models.ErrOrderNotFound) {
		return "We could not find this order."
	}
	var f *faults.Fault
	if errors.As(err, &f) {
		return f.Message
	}
	return faults.UserMessage(faults.NetworkFailure)
}

// Render turns a snapshot into a view. The agent marker only appears when
// tracking is enabled.
func Render(snap *models.TrackingSnapshot, labels geo.Labels, fallback models.Coordinate) View {
	view := View{
		OrderID:           snap.OrderID,
		Status:            snap.Status,
		TrackingAvailable: snap.TrackingEnabled,
		AssignedAgent:     snap.AssignedAgent,
		AgentUpdatedAt:    snap.AgentUpdatedAt,
	}
	if !snap.TrackingEnabled {
		view.Placeholder = PlaceholderText
		return view
	}
	mv := geo.BuildMap(
		snap.StoreLocation.Coordinate(),
		snap.AgentLocation.Coordinate(),
		snap.DeliveryLocation.Coordinate(),
		labels,
		fallback,
	)
	view.Map = &mv
	return view
}

type Stats struct {
	OrderID       string     `json:"orderId,omitempty"`
	TotalFetches  int64      `json:"totalFetches"`
	TotalFailures int64      `json:"totalFailures"`
	LastFetchAt   *time.Time `json:"lastFetchAt,omitempty"`
}

func (v *Viewer) Stats() Stats {
	v.mu.Lock()
	st := Stats{OrderID: v.orderID}
	v.mu.Unlock()
	st.TotalFetches = v.totalFetches.Load()
	st.TotalFailures = v.totalFailures.Load()
	if n := v.lastFetchNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastFetchAt = &t
	}
	return st
}
