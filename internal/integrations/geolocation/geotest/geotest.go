// Package geotest provides a scripted geolocation source for tests. It counts
// open watches so tests can assert that no watch outlives its session.
package geotest

import (
	"context"
	"sync"

	"github.com/freshbasket/livetrack/internal/integrations/geolocation"
	"github.com/freshbasket/livetrack/internal/models"
)

type positionResult struct {
	fix models.Fix
	err error
}

type Source struct {
	mu         sync.Mutex
	permission geolocation.Permission
	permErr    error
	watchErr   error
	positions  []positionResult
	current    []geolocation.Options
	watches    []*Watch
	opened     []geolocation.Options
	active     int
	maxActive  int
}

func New() *Source {
	return &Source{permission: geolocation.PermissionGranted}
}

func (s *Source) SetPermission(p geolocation.Permission, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permission, s.permErr = p, err
}

// SetWatchError makes every following Watch call fail with err.
func (s *Source) SetWatchError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchErr = err
}

// QueuePosition scripts the next CurrentPosition result.
func (s *Source) QueuePosition(fix models.Fix, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, positionResult{fix: fix, err: err})
}

func (s *Source) Permission(ctx context.Context) (geolocation.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission, s.permErr
}

// CurrentPosition returns queued results in order; with nothing queued it times out.
func (s *Source) CurrentPosition(ctx context.Context, opts geolocation.Options) (models.Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = append(s.current, opts)
	if len(s.positions) == 0 {
		return models.Fix{}, geolocation.NewError(geolocation.CodeTimeout, "no scripted position")
	}
	r := s.positions[0]
	s.positions = s.positions[1:]
	return r.fix, r.err
}

func (s *Source) Watch(ctx context.Context, opts geolocation.Options) (geolocation.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	w := &Watch{src: s, ch: make(chan geolocation.Event, 16)}
	s.watches = append(s.watches, w)
	s.opened = append(s.opened, opts)
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	return w, nil
}

// SendFix delivers a fix to the newest open watch. It reports false when no watch is open.
func (s *Source) SendFix(fix models.Fix) bool {
	return s.send(geolocation.Event{Fix: &fix})
}

func (s *Source) SendError(err error) bool {
	return s.send(geolocation.Event{Err: err})
}

func (s *Source) send(ev geolocation.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.watches) - 1; i >= 0; i-- {
		w := s.watches[i]
		if w.stopped {
			continue
		}
		select {
		case w.ch <- ev:
			return true
		default:
			return false
		}
	}
	return false
}

func (s *Source) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Source) MaxActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

// Opened returns the options of every watch opened so far.
func (s *Source) Opened() []geolocation.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]geolocation.Options(nil), s.opened...)
}

// CurrentCalls returns the options of every CurrentPosition call so far.
func (s *Source) CurrentCalls() []geolocation.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]geolocation.Options(nil), s.current...)
}

type Watch struct {
	src     *Source
	ch      chan geolocation.Event
	stopped bool
}

func (w *Watch) Events() <-chan geolocation.Event { return w.ch }

func (w *Watch) Stop() {
	w.src.mu.Lock()
	defer w.src.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	w.src.active--
}
