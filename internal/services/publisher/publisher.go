package publisher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freshbasket/livetrack/internal/faults"
	"github.com/freshbasket/livetrack/internal/integrations/geolocation"
	"github.com/freshbasket/livetrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type State string

const (
	StateIdle       State = "Idle"
	StateAcquiring  State = "Acquiring"
	StatePublishing State = "Publishing"
	StateDegraded   State = "Degraded"
	StateStopped    State = "Stopped"
)

type Backend interface {
	PublishLocation(ctx context.Context, upd models.AgentCoordinateUpdate) error
	GetAgentOrder(ctx context.Context, orderID string) (*models.Order, error)
}

type SessionStore interface {
	Load(ctx context.Context) (models.SharingState, bool, error)
	Save(ctx context.Context, st models.SharingState) error
	Clear(ctx context.Context) error
}

// run is one sharing session's goroutine. done is closed after its watch is stopped.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Publisher streams the agent's position to the backend for one order at a time.
type Publisher struct {
	src     geolocation.Source
	backend Backend
	store   SessionStore

	opts           geolocation.Options
	heartbeat      time.Duration
	publishTimeout time.Duration

	// ctrl serializes Start/Stop/Resume/Logout; mu guards the fields below it.
	ctrl     sync.Mutex
	mu       sync.Mutex
	state    State
	session  models.TrackingSession
	cur      *run
	onChange func(models.TrackingSession)

	startedAtUnixNano   int64
	lastPublishUnixNano atomic.Int64
	totalFixes          atomic.Int64
	totalPublished      atomic.Int64
	totalPublishErrors  atomic.Int64
	totalHeartbeats     atomic.Int64
	totalWatchesOpened  atomic.Int64
	lastPublishErrorMu  sync.Mutex
	lastPublishError    string
}

func New(src geolocation.Source, backend Backend, store SessionStore) *Publisher {
	return &Publisher{
		src:               src,
		backend:           backend,
		store:             store,
		opts:              geolocation.DefaultOptions(),
		heartbeat:         5 * time.Second,
		publishTimeout:    10 * time.Second,
		state:             StateIdle,
		session:           models.TrackingSession{State: string(StateIdle)},
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (p *Publisher) WithSettings(heartbeat, publishTimeout time.Duration, opts geolocation.Options) *Publisher {
	if heartbeat > 0 {
		p.heartbeat = heartbeat
	}
	if publishTimeout > 0 {
		p.publishTimeout = publishTimeout
	}
	if opts.Timeout > 0 {
		p.opts = opts
	}
	return p
}

// OnChange registers a callback invoked after every state transition.
func (p *Publisher) OnChange(fn func(models.TrackingSession)) *Publisher {
	p.onChange = fn
	return p
}

func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Session returns a copy of the current tracking session.
func (p *Publisher) Session() models.TrackingSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Publisher) snapshotLocked() models.TrackingSession {
	s := p.session
	s.State = string(p.state)
	if s.LastKnownCoordinate != nil {
		f := *s.LastKnownCoordinate
		s.LastKnownCoordinate = &f
	}
	if s.LastError != nil {
		e := *s.LastError
		s.LastError = &e
	}
	return s
}

// Start begins sharing for orderID. A running session is stopped first.
func (p *Publisher) Start(ctx context.Context, orderID string) error {
	p.ctrl.Lock()
	defer p.ctrl.Unlock()
	return p.startLocked(ctx, orderID, "")
}

func (p *Publisher) startLocked(ctx context.Context, orderID, sessionID string) error {
	if orderID == "" {
		return errors.New("orderId is required")
	}
	p.stopRun()

	if p.src == nil {
		f := faults.New(faults.PositionUnavailable, errors.New("no geolocation source on this device"))
		p.finishWith(ctx, orderID, f)
		return f
	}
	if perm, err := p.src.Permission(ctx); err == nil && perm == geolocation.PermissionDenied {
		f := faults.New(faults.PermissionDenied, errors.New("location permission is denied"))
		p.finishWith(ctx, orderID, f)
		return f
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now().UTC()
	if err := p.store.Save(ctx, models.SharingState{
		SharingActive:   true,
		TrackingOrderID: orderID,
		SessionID:       sessionID,
		StartedAt:       now,
	}); err != nil {
		// The previous run is already stopped, so its record must not survive either.
		err = errors.Wrap(err, "persist sharing state")
		p.finishWith(ctx, orderID, faults.New(faults.Unknown, err))
		return err
	}

	// The watch is registered before Start returns; Acquiring always has one open.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w, err := p.openWatch(runCtx, p.opts)
	if err != nil {
		cancel()
		f := geolocation.Classify(err)
		p.finishWith(ctx, orderID, f)
		return f
	}
	r := &run{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	p.cur = r
	p.state = StateAcquiring
	p.session = models.TrackingSession{
		SessionID: sessionID,
		OrderID:   orderID,
		IsActive:  true,
		StartedAt: &now,
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	slog.Info("location sharing started", "order_id", orderID, "session_id", sessionID)
	p.notify(snap)

	go p.loop(runCtx, r, orderID, w)
	return nil
}

// Stop ends sharing on the agent's request.
func (p *Publisher) Stop(ctx context.Context) error {
	p.ctrl.Lock()
	defer p.ctrl.Unlock()
	return p.stopLocked(ctx, "stop")
}

// Logout force-stops any active session.
func (p *Publisher) Logout(ctx context.Context) error {
	p.ctrl.Lock()
	defer p.ctrl.Unlock()
	return p.stopLocked(ctx, "logout")
}

func (p *Publisher) stopLocked(ctx context.Context, reason string) error {
	p.stopRun()
	err := p.store.Clear(ctx)

	p.mu.Lock()
	orderID := p.session.OrderID
	p.state = StateStopped
	p.session = models.TrackingSession{}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	slog.Info("location sharing stopped", "order_id", orderID, "reason", reason)
	p.notify(snap)
	if err != nil {
		return errors.Wrap(err, "clear sharing state")
	}
	return nil
}

// Shutdown releases the watch when the process exits. The persisted record
// is kept so the next process resumes the session.
func (p *Publisher) Shutdown() {
	p.ctrl.Lock()
	defer p.ctrl.Unlock()
	p.stopRun()
}

// Resume restarts a session persisted by a previous process if its order is
// still trackable, and clears a stale record otherwise. It reports whether a
// session was resumed.
func (p *Publisher) Resume(ctx context.Context) (bool, error) {
	p.ctrl.Lock()
	defer p.ctrl.Unlock()

	st, ok, err := p.store.Load(ctx)
	if err != nil {
		return false, errors.Wrap(err, "load sharing state")
	}
	if !ok {
		return false, nil
	}
	if !st.SharingActive || st.TrackingOrderID == "" {
		return false, p.clearStale(ctx, st, "inactive record")
	}

	order, err := p.backend.GetAgentOrder(ctx, st.TrackingOrderID)
	if errors.Is(err, models.ErrOrderNotFound) || errors.Is(err, models.ErrNotAssigned) {
		return false, p.clearStale(ctx, st, "order not found")
	}
	if err != nil {
		return false, errors.Wrap(err, "check order status")
	}
	if !models.IsAgentTrackable(order.Status) {
		return false, p.clearStale(ctx, st, "order status "+order.Status)
	}

	slog.Info("resuming location sharing", "order_id", st.TrackingOrderID, "session_id", st.SessionID)
	if err := p.startLocked(ctx, st.TrackingOrderID, st.SessionID); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Publisher) clearStale(ctx context.Context, st models.SharingState, reason string) error {
	slog.Info("clearing stale sharing state", "order_id", st.TrackingOrderID, "reason", reason)
	if err := p.store.Clear(ctx); err != nil {
		return errors.Wrap(err, "clear sharing state")
	}
	return nil
}

// stopRun cancels the current session goroutine and waits until its watch is released.
func (p *Publisher) stopRun() {
	p.mu.Lock()
	r := p.cur
	p.cur = nil
	p.mu.Unlock()
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (p *Publisher) loop(ctx context.Context, r *run, orderID string, w geolocation.Watch) {
	defer close(r.done)
	f, ended := p.watchLoop(ctx, r, orderID, w)
	if ctx.Err() != nil {
		return
	}
	p.finish(r, orderID, f, ended)
}

// watchLoop owns w from here on. It runs until the session fails, ends, or ctx
// is cancelled, and the watch is always stopped before it returns.
func (p *Publisher) watchLoop(ctx context.Context, r *run, orderID string, w geolocation.Watch) (*faults.Fault, bool) {
	opts := p.opts
	relaxed := false

	defer func() {
		if w != nil {
			w.Stop()
		}
	}()

	firstFix := time.NewTimer(opts.Timeout)
	defer firstFix.Stop()
	firstFixC := firstFix.C

	hb := time.NewTicker(p.heartbeat)
	defer hb.Stop()

	for {
		var acqErr error
		select {
		case <-ctx.Done():
			return nil, false
		case <-firstFixC:
			firstFixC = nil
			acqErr = geolocation.NewError(geolocation.CodeTimeout, "no position within "+opts.Timeout.String())
		case ev, ok := <-w.Events():
			if !ok {
				return faults.New(faults.Unknown, errors.New("geolocation watch closed")), false
			}
			if ev.Err != nil {
				acqErr = ev.Err
				break
			}
			if ev.Fix == nil {
				continue
			}
			if firstFixC != nil {
				firstFix.Stop()
				firstFixC = nil
			}
			if p.handleFix(ctx, r, orderID, *ev.Fix) {
				return nil, true
			}
			continue
		case <-hb.C:
			if fix, ok := p.lastFix(r); ok {
				p.totalHeartbeats.Add(1)
				if p.publish(ctx, orderID, fix) {
					return nil, true
				}
			}
			continue
		}

		f := geolocation.Classify(acqErr)
		if f.Kind != faults.AcquisitionTimeout || relaxed {
			return f, false
		}

		// One retry with relaxed accuracy, with the watch released meanwhile.
		relaxed = true
		if firstFixC != nil {
			firstFix.Stop()
			firstFixC = nil
		}
		w.Stop()
		w = nil
		p.setState(r, StateDegraded, f)
		slog.Warn("location timeout, retrying with low accuracy", "order_id", orderID, "error", acqErr.Error())

		opts = opts.Relaxed()
		fix, err := p.currentPosition(ctx, opts)
		if ctx.Err() != nil {
			return nil, false
		}
		if err != nil {
			return geolocation.Classify(err), false
		}
		if p.handleFix(ctx, r, orderID, fix) {
			return nil, true
		}
		if w, err = p.openWatch(ctx, opts); err != nil {
			return geolocation.Classify(err), false
		}
	}
}

func (p *Publisher) openWatch(ctx context.Context, opts geolocation.Options) (geolocation.Watch, error) {
	w, err := p.src.Watch(ctx, opts)
	if err != nil {
		return nil, err
	}
	p.totalWatchesOpened.Add(1)
	return w, nil
}

func (p *Publisher) currentPosition(ctx context.Context, opts geolocation.Options) (models.Fix, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	return p.src.CurrentPosition(ctx, opts)
}

// handleFix records fix as the current location and publishes it. It reports
// whether the backend ended the session.
func (p *Publisher) handleFix(ctx context.Context, r *run, orderID string, fix models.Fix) bool {
	p.totalFixes.Add(1)

	p.mu.Lock()
	if p.cur != r {
		p.mu.Unlock()
		return false
	}
	f := fix
	p.session.LastKnownCoordinate = &f
	p.session.LastError = nil
	changed := p.state != StatePublishing
	p.state = StatePublishing
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if changed {
		slog.Info("location sharing publishing", "order_id", orderID, "accuracy_m", fix.AccuracyMeters)
		p.notify(snap)
	}
	return p.publish(ctx, orderID, fix)
}

func (p *Publisher) lastFix(r *run) (models.Fix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != r || p.session.LastKnownCoordinate == nil {
		return models.Fix{}, false
	}
	return *p.session.LastKnownCoordinate, true
}

// publish sends one update. Failures are logged and left for the next fix or
// heartbeat; it reports true only when the backend says the order can no
// longer be tracked.
func (p *Publisher) publish(ctx context.Context, orderID string, fix models.Fix) bool {
	pctx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	acc := fix.AccuracyMeters
	captured := fix.CapturedAt
	upd := models.AgentCoordinateUpdate{
		OrderID:   orderID,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
	}
	if acc > 0 {
		upd.AccuracyMeters = &acc
	}
	if !captured.IsZero() {
		upd.CapturedAt = &captured
	}

	err := p.backend.PublishLocation(pctx, upd)
	if err == nil {
		p.totalPublished.Add(1)
		p.lastPublishUnixNano.Store(time.Now().UTC().UnixNano())
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, models.ErrOrderNotTrackable) || errors.Is(err, models.ErrOrderNotFound) || errors.Is(err, models.ErrNotAssigned) {
		slog.Info("order no longer trackable, ending session", "order_id", orderID, "error", err.Error())
		return true
	}
	p.totalPublishErrors.Add(1)
	p.lastPublishErrorMu.Lock()
	p.lastPublishError = err.Error()
	p.lastPublishErrorMu.Unlock()
	slog.Warn("publish agent location", "order_id", orderID, "error", err.Error())
	return false
}

func (p *Publisher) setState(r *run, st State, f *faults.Fault) {
	p.mu.Lock()
	if p.cur != r {
		p.mu.Unlock()
		return
	}
	p.state = st
	if f != nil {
		p.session.LastError = &models.SessionError{Kind: string(f.Kind), Message: f.Message}
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.notify(snap)
}

// finish moves a session that ended on its own to Stopped and clears the
// persisted record.
func (p *Publisher) finish(r *run, orderID string, f *faults.Fault, ended bool) {
	ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
	defer cancel()

	p.mu.Lock()
	if p.cur != r {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := p.store.Clear(ctx); err != nil {
		slog.Error("clear sharing state", "order_id", orderID, "error", err.Error())
	}

	p.mu.Lock()
	if p.cur != r {
		p.mu.Unlock()
		return
	}
	p.cur = nil
	p.applyStoppedLocked(orderID, f)
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if f != nil {
		slog.Error("location sharing failed", "order_id", orderID, "kind", string(f.Kind), "error", f.Error())
	} else if ended {
		slog.Info("location sharing ended by backend", "order_id", orderID)
	}
	p.notify(snap)
}

// finishWith stops without a running session (failed preconditions).
func (p *Publisher) finishWith(ctx context.Context, orderID string, f *faults.Fault) {
	if err := p.store.Clear(ctx); err != nil {
		slog.Error("clear sharing state", "order_id", orderID, "error", err.Error())
	}
	p.mu.Lock()
	p.applyStoppedLocked(orderID, f)
	snap := p.snapshotLocked()
	p.mu.Unlock()

	slog.Error("location sharing not started", "order_id", orderID, "kind", string(f.Kind), "error", f.Error())
	p.notify(snap)
}

func (p *Publisher) applyStoppedLocked(orderID string, f *faults.Fault) {
	p.state = StateStopped
	s := models.TrackingSession{OrderID: orderID}
	if f != nil {
		s.LastError = &models.SessionError{Kind: string(f.Kind), Message: f.Message}
	}
	p.session = s
}

func (p *Publisher) notify(s models.TrackingSession) {
	if p.onChange != nil {
		p.onChange(s)
	}
}

type Stats struct {
	StartedAt          time.Time  `json:"startedAt"`
	State              State      `json:"state"`
	LastPublishAt      *time.Time `json:"lastPublishAt,omitempty"`
	TotalFixes         int64      `json:"totalFixes"`
	TotalPublished     int64      `json:"totalPublished"`
	TotalPublishErrors int64      `json:"totalPublishErrors"`
	TotalHeartbeats    int64      `json:"totalHeartbeats"`
	TotalWatches       int64      `json:"totalWatchesOpened"`
	LastPublishError   string     `json:"lastPublishError,omitempty"`
}

func (p *Publisher) Stats() Stats {
	st := Stats{
		StartedAt:          time.Unix(0, p.startedAtUnixNano).UTC(),
		State:              p.State(),
		TotalFixes:         p.totalFixes.Load(),
		TotalPublished:     p.totalPublished.Load(),
		TotalPublishErrors: p.totalPublishErrors.Load(),
		TotalHeartbeats:    p.totalHeartbeats.Load(),
		TotalWatches:       p.totalWatchesOpened.Load(),
	}
	if n := p.lastPublishUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastPublishAt = &t
	}
	p.lastPublishErrorMu.Lock()
	st.LastPublishError = p.lastPublishError
	p.lastPublishErrorMu.Unlock()
	return st
}
