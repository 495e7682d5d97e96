package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/freshbasket/livetrack/internal/cache/memcache"
	"github.com/freshbasket/livetrack/internal/faults"
	"github.com/freshbasket/livetrack/internal/integrations/geolocation"
	"github.com/freshbasket/livetrack/internal/integrations/geolocation/geotest"
	"github.com/freshbasket/livetrack/internal/models"
	"github.com/freshbasket/livetrack/internal/sessionstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeBackend struct {
	mu         sync.Mutex
	updates    []models.AgentCoordinateUpdate
	publishErr error
	order      *models.Order
	orderErr   error
}

func (b *fakeBackend) PublishLocation(_ context.Context, upd models.AgentCoordinateUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, upd)
	return b.publishErr
}

func (b *fakeBackend) GetAgentOrder(_ context.Context, orderID string) (*models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.orderErr != nil {
		return nil, b.orderErr
	}
	o := *b.order
	o.ID = orderID
	return &o, nil
}

func (b *fakeBackend) setPublishErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

func (b *fakeBackend) published() []models.AgentCoordinateUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.AgentCoordinateUpdate(nil), b.updates...)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func fixAt(lat, lon float64) models.Fix {
	return models.Fix{Latitude: lat, Longitude: lon, AccuracyMeters: 8, CapturedAt: time.Now().UTC()}
}

// flakyStore fails Save while saveErr is set.
type flakyStore struct {
	*sessionstore.CacheStore

	mu      sync.Mutex
	saveErr error
}

func (f *flakyStore) Save(ctx context.Context, st models.SharingState) error {
	f.mu.Lock()
	err := f.saveErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.CacheStore.Save(ctx, st)
}

func (f *flakyStore) failSaves(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

type PublisherSuite struct {
	suite.Suite

	src     *geotest.Source
	backend *fakeBackend
	store   *flakyStore
	pub     *Publisher
}

func (s *PublisherSuite) SetupTest() {
	s.src = geotest.New()
	s.backend = &fakeBackend{order: &models.Order{Status: models.OrderStatusShipped}}
	s.store = &flakyStore{CacheStore: sessionstore.NewCacheStore(memcache.New(time.Minute), "agent-1")}
	s.pub = New(s.src, s.backend, s.store).WithSettings(time.Hour, time.Second, geolocation.DefaultOptions())
}

func (s *PublisherSuite) TearDownTest() {
	_ = s.pub.Stop(context.Background())
	s.Require().Equal(0, s.src.Active())
}

func (s *PublisherSuite) waitState(st State) {
	s.Require().Eventually(func() bool { return s.pub.State() == st }, waitFor, tick, "want state %s, have %s", st, s.pub.State())
}

func (s *PublisherSuite) storedState() (models.SharingState, bool) {
	st, ok, err := s.store.Load(context.Background())
	s.Require().NoError(err)
	return st, ok
}

func (s *PublisherSuite) TestShareThenStop() {
	ctx := context.Background()
	s.Require().NoError(s.pub.Start(ctx, "ORD-100"))
	s.Require().Equal(StateAcquiring, s.pub.State())
	s.Require().Equal(1, s.src.Active())

	st, ok := s.storedState()
	s.Require().True(ok)
	s.Require().True(st.SharingActive)
	s.Require().Equal("ORD-100", st.TrackingOrderID)
	s.Require().NotEmpty(st.SessionID)

	s.Require().Eventually(func() bool { return s.src.SendFix(fixAt(9.17, 77.87)) }, waitFor, tick)
	s.waitState(StatePublishing)
	s.Require().Eventually(func() bool { return len(s.backend.published()) == 1 }, waitFor, tick)

	upd := s.backend.published()[0]
	s.Require().Equal("ORD-100", upd.OrderID)
	s.Require().Equal(9.17, upd.Latitude)
	s.Require().Equal(77.87, upd.Longitude)
	s.Require().NotNil(upd.AccuracyMeters)

	sess := s.pub.Session()
	s.Require().True(sess.IsActive)
	s.Require().Equal(st.SessionID, sess.SessionID)
	s.Require().Equal(9.17, sess.LastKnownCoordinate.Latitude)

	s.Require().NoError(s.pub.Stop(ctx))
	s.Require().Equal(StateStopped, s.pub.State())
	s.Require().Equal(0, s.src.Active())
	_, ok = s.storedState()
	s.Require().False(ok)
	s.Require().False(s.pub.Session().IsActive)
}

func (s *PublisherSuite) TestRestartKeepsSingleWatch() {
	ctx := context.Background()
	s.Require().NoError(s.pub.Start(ctx, "ORD-A"))
	s.Require().NoError(s.pub.Stop(ctx))
	s.Require().NoError(s.pub.Start(ctx, "ORD-A"))
	s.Require().NoError(s.pub.Start(ctx, "ORD-B"))

	s.Require().Equal(1, s.src.MaxActive())
	s.Require().Equal(1, s.src.Active())
	s.Require().Len(s.src.Opened(), 3)
	s.Require().Equal("ORD-B", s.pub.Session().OrderID)

	st, ok := s.storedState()
	s.Require().True(ok)
	s.Require().Equal("ORD-B", st.TrackingOrderID)

	s.Require().Eventually(func() bool { return s.src.SendFix(fixAt(1, 2)) }, waitFor, tick)
	s.Require().Eventually(func() bool { return len(s.backend.published()) == 1 }, waitFor, tick)
	s.Require().Equal("ORD-B", s.backend.published()[0].OrderID)
}

func (s *PublisherSuite) TestPermissionDeniedBeforeStart() {
	s.src.SetPermission(geolocation.PermissionDenied, nil)

	err := s.pub.Start(context.Background(), "ORD-100")
	s.Require().Error(err)
	s.Require().True(faults.Is(err, faults.PermissionDenied))
	s.Require().Equal(StateStopped, s.pub.State())
	s.Require().Empty(s.src.Opened())

	sess := s.pub.Session()
	s.Require().NotNil(sess.LastError)
	s.Require().Equal(string(faults.PermissionDenied), sess.LastError.Kind)
	_, ok := s.storedState()
	s.Require().False(ok)
}

func (s *PublisherSuite) TestWatchOpenFailureStops() {
	s.src.SetWatchError(geolocation.NewError(geolocation.CodePositionUnavailable, "gps off"))

	err := s.pub.Start(context.Background(), "ORD-100")
	s.Require().True(faults.Is(err, faults.PositionUnavailable))
	s.Require().Equal(StateStopped, s.pub.State())
	s.Require().False(s.pub.Session().IsActive)
	s.Require().Equal(string(faults.PositionUnavailable), s.pub.Session().LastError.Kind)
	_, ok := s.storedState()
	s.Require().False(ok)
}

func (s *PublisherSuite) TestSaveFailureEndsPreviousSession() {
	ctx := context.Background()
	s.Require().NoError(s.pub.Start(ctx, "ORD-A"))
	s.Require().Eventually(func() bool { return s.src.SendFix(fixAt(1, 2)) }, waitFor, tick)
	s.waitState(StatePublishing)

	s.store.failSaves(errors.New("disk full"))
	err := s.pub.Start(ctx, "ORD-B")
	s.Require().Error(err)
	s.Require().Contains(err.Error(), "disk full")

	s.Require().Equal(StateStopped, s.pub.State())
	sess := s.pub.Session()
	s.Require().False(sess.IsActive)
	s.Require().Equal("ORD-B", sess.OrderID)
	s.Require().NotNil(sess.LastError)
	s.Require().Equal(0, s.src.Active())
	s.Require().Len(s.src.Opened(), 1)

	// Nothing is left for the next process to resume.
	_, ok := s.storedState()
	s.Require().False(ok)
	s.store.failSaves(nil)
	resumed, err := New(s.src, s.backend, s.store).Resume(ctx)
	s.Require().NoError(err)
	s.Require().False(resumed)
}

func (s *PublisherSuite) TestPermissionRevokedDuringWatch() {
	s.Require().NoError(s.pub.Start(context.Background(), "ORD-100"))
	s.Require().Eventually(func() bool {
		return s.src.SendError(geolocation.NewError(geolocation.CodePermissionDenied, "revoked"))
	}, waitFor, tick)

	s.waitState(StateStopped)
	s.Require().Equal(0, s.src.Active())
	s.Require().Equal(string(faults.PermissionDenied), s.pub.Session().LastError.Kind)
	_, ok := s.storedState()
	s.Require().False(ok)
	s.Require().Empty(s.src.CurrentCalls())
}

func (s *PublisherSuite) TestTimeoutRetriesWithLowAccuracy() {
	s.src.QueuePosition(fixAt(9.2, 77.9), nil)
	s.Require().NoError(s.pub.Start(context.Background(), "ORD-100"))
	s.Require().Eventually(func() bool {
		return s.src.SendError(geolocation.NewError(geolocation.CodeTimeout, ""))
	}, waitFor, tick)

	s.waitState(StatePublishing)
	calls := s.src.CurrentCalls()
	s.Require().Len(calls, 1)
	s.Require().False(calls[0].HighAccuracy)

	s.Require().Eventually(func() bool { return len(s.src.Opened()) == 2 }, waitFor, tick)
	opened := s.src.Opened()
	s.Require().True(opened[0].HighAccuracy)
	s.Require().False(opened[1].HighAccuracy)
	s.Require().Equal(1, s.src.MaxActive())
	s.Require().Equal(9.2, s.backend.published()[0].Latitude)
}

func (s *PublisherSuite) TestTimeoutThenRetryFails() {
	s.Require().NoError(s.pub.Start(context.Background(), "ORD-100"))
	s.Require().Eventually(func() bool {
		return s.src.SendError(geolocation.NewError(geolocation.CodeTimeout, ""))
	}, waitFor, tick)

	s.waitState(StateStopped)
	s.Require().Equal(string(faults.AcquisitionTimeout), s.pub.Session().LastError.Kind)
	s.Require().Len(s.src.CurrentCalls(), 1)
	s.Require().Len(s.src.Opened(), 1)
	s.Require().Equal(0, s.src.Active())
}

func (s *PublisherSuite) TestFirstFixWatchdog() {
	opts := geolocation.DefaultOptions()
	opts.Timeout = 30 * time.Millisecond
	s.pub.WithSettings(0, 0, opts)

	s.Require().NoError(s.pub.Start(context.Background(), "ORD-100"))
	s.waitState(StateStopped)
	s.Require().Equal(string(faults.AcquisitionTimeout), s.pub.Session().LastError.Kind)
	s.Require().Len(s.src.CurrentCalls(), 1)
}

func (s *PublisherSuite) TestPositionUnavailableStops() {
	s.Require().NoError(s.pub.Start(context.Background(), "ORD-100"))
	s.Require().Eventually(func() bool {
		return s.src.SendError(geolocation.NewError(geolocation.CodePositionUnavailable, "no signal"))
	}, waitFor, tick)

	s.waitState(StateStopped)
	s.Require().Equal(string(faults.PositionUnavailable), s.pub.Session().LastError.Kind)
	s.Require().Equal(faults.UserMessage(faults.PositionUnavailable), s.pub.Session().LastError.Message)
}

func (s *PublisherSuite) TestHeartbeatRepublishesLastFix() {
	s.pub.WithSettings(15*time.Millisecond, 0, geolocation.Options{})
	s.Require().NoError(s.pub.Start(context.Background(), "ORD-100"))
	s.Require().Eventually(func() bool { return s.src.SendFix(fixAt(9.17, 77.87)) }, waitFor, tick)

	s.Require().Eventually(func() bool { return len(s.backend.published()) >= 3 }, waitFor, tick)
	for _, u := range s.backend.published() {
		s.Require().Equal(9.17, u.Latitude)
	}
	s.Require().GreaterOrEqual(s.pub.Stats().TotalHeartbeats, int64(2))
	s.Require().Equal(int64(1), s.pub.Stats().TotalFixes)
}

func (s *PublisherSuite) TestPublishFailureKeepsSharing() {
	s.backend.setPublishErr(faults.New(faults.NetworkFailure, errors.New("connection reset")))
	s.Require().NoError(s.pub.Start(context.Background(), "ORD-100"))
	s.Require().Eventually(func() bool { return s.src.SendFix(fixAt(1, 1)) }, waitFor, tick)

	s.Require().Eventually(func() bool { return s.pub.Stats().TotalPublishErrors == 1 }, waitFor, tick)
	s.Require().Equal(StatePublishing, s.pub.State())
	s.Require().NotEmpty(s.pub.Stats().LastPublishError)

	s.backend.setPublishErr(nil)
	s.Require().True(s.src.SendFix(fixAt(1.1, 1.1)))
	s.Require().Eventually(func() bool { return s.pub.Stats().TotalPublished == 1 }, waitFor, tick)
	s.Require().NotNil(s.pub.Stats().LastPublishAt)
}

func (s *PublisherSuite) TestOrderNoLongerTrackableEndsSession() {
	s.backend.setPublishErr(errors.Wrap(models.ErrOrderNotTrackable, "order is Delivered"))
	s.Require().NoError(s.pub.Start(context.Background(), "ORD-100"))
	s.Require().Eventually(func() bool { return s.src.SendFix(fixAt(1, 1)) }, waitFor, tick)

	s.waitState(StateStopped)
	s.Require().Nil(s.pub.Session().LastError)
	s.Require().Equal(0, s.src.Active())
	_, ok := s.storedState()
	s.Require().False(ok)
}

func (s *PublisherSuite) TestLogoutForceStops() {
	var changes []models.TrackingSession
	var mu sync.Mutex
	s.pub.OnChange(func(ts models.TrackingSession) {
		mu.Lock()
		changes = append(changes, ts)
		mu.Unlock()
	})

	s.Require().NoError(s.pub.Start(context.Background(), "ORD-100"))
	s.Require().NoError(s.pub.Logout(context.Background()))
	s.Require().Equal(StateStopped, s.pub.State())
	s.Require().Equal(0, s.src.Active())
	_, ok := s.storedState()
	s.Require().False(ok)

	mu.Lock()
	defer mu.Unlock()
	s.Require().GreaterOrEqual(len(changes), 2)
	s.Require().Equal(string(StateAcquiring), changes[0].State)
	s.Require().Equal(string(StateStopped), changes[len(changes)-1].State)
}

func (s *PublisherSuite) TestShutdownKeepsRecordForResume() {
	ctx := context.Background()
	s.Require().NoError(s.pub.Start(ctx, "ORD-100"))
	s.Require().Eventually(func() bool { return s.src.SendFix(fixAt(9.17, 77.87)) }, waitFor, tick)
	s.waitState(StatePublishing)

	s.pub.Shutdown()
	s.Require().Equal(0, s.src.Active())
	st, ok := s.storedState()
	s.Require().True(ok)
	s.Require().Equal("ORD-100", st.TrackingOrderID)

	next := New(s.src, s.backend, s.store).WithSettings(time.Hour, time.Second, geolocation.DefaultOptions())
	resumed, err := next.Resume(ctx)
	s.Require().NoError(err)
	s.Require().True(resumed)
	s.Require().Equal(st.SessionID, next.Session().SessionID)
	s.Require().NoError(next.Stop(ctx))
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func newResumeFixture(t *testing.T, order *models.Order, orderErr error) (*Publisher, *geotest.Source, *sessionstore.CacheStore) {
	t.Helper()
	src := geotest.New()
	store := sessionstore.NewCacheStore(memcache.New(time.Minute), "agent-1")
	b := &fakeBackend{order: order, orderErr: orderErr}
	p := New(src, b, store).WithSettings(time.Hour, time.Second, geolocation.DefaultOptions())
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p, src, store
}

func saveRecord(t *testing.T, store *sessionstore.CacheStore) models.SharingState {
	t.Helper()
	st := models.SharingState{
		SharingActive:   true,
		TrackingOrderID: "ORD-100",
		SessionID:       "0b8e5c52-2f0f-4d5e-9a61-5a0d0c3c7e42",
		StartedAt:       time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, store.Save(context.Background(), st))
	return st
}

func TestResume_TrackableOrder(t *testing.T) {
	p, src, store := newResumeFixture(t, &models.Order{Status: models.OrderStatusProcessing}, nil)
	rec := saveRecord(t, store)

	resumed, err := p.Resume(context.Background())
	require.NoError(t, err)
	require.True(t, resumed)
	require.Equal(t, StateAcquiring, p.State())
	require.Equal(t, rec.SessionID, p.Session().SessionID)
	require.Equal(t, 1, src.Active())
}

func TestResume_DeliveredOrderClearsRecord(t *testing.T) {
	p, src, store := newResumeFixture(t, &models.Order{Status: models.OrderStatusDelivered}, nil)
	saveRecord(t, store)

	resumed, err := p.Resume(context.Background())
	require.NoError(t, err)
	require.False(t, resumed)
	require.Empty(t, src.Opened())

	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResume_UnknownOrderClearsRecord(t *testing.T) {
	p, _, store := newResumeFixture(t, nil, models.ErrOrderNotFound)
	saveRecord(t, store)

	resumed, err := p.Resume(context.Background())
	require.NoError(t, err)
	require.False(t, resumed)

	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResume_NetworkErrorKeepsRecord(t *testing.T) {
	p, src, store := newResumeFixture(t, nil, faults.New(faults.NetworkFailure, errors.New("dial tcp: refused")))
	rec := saveRecord(t, store)

	resumed, err := p.Resume(context.Background())
	require.Error(t, err)
	require.False(t, resumed)
	require.True(t, faults.Is(err, faults.NetworkFailure))
	require.Empty(t, src.Opened())

	got, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.TrackingOrderID, got.TrackingOrderID)
}

func TestResume_NoRecord(t *testing.T) {
	p, src, _ := newResumeFixture(t, &models.Order{Status: models.OrderStatusShipped}, nil)

	resumed, err := p.Resume(context.Background())
	require.NoError(t, err)
	require.False(t, resumed)
	require.Equal(t, StateIdle, p.State())
	require.Empty(t, src.Opened())
}

func TestStart_RequiresOrderID(t *testing.T) {
	p, src, _ := newResumeFixture(t, nil, nil)
	require.Error(t, p.Start(context.Background(), ""))
	require.Empty(t, src.Opened())
}
