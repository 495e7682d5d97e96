package fake

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/freshbasket/livetrack/internal/integrations/geolocation"
	"github.com/freshbasket/livetrack/internal/models"
)

// FakeSource is a stand-in for a device GPS: a deterministic walk from Start,
// seeded by a device name so two agents never move in lockstep.
type FakeSource struct {
	start    models.Coordinate
	seed     uint32
	interval time.Duration

	mu   sync.Mutex
	step int
}

func New(start models.Coordinate, deviceID string, interval time.Duration) *FakeSource {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	if interval <= 0 {
		interval = time.Second
	}
	return &FakeSource{start: start, seed: h.Sum32(), interval: interval}
}

func (f *FakeSource) Permission(ctx context.Context) (geolocation.Permission, error) {
	return geolocation.PermissionGranted, nil
}

func (f *FakeSource) CurrentPosition(ctx context.Context, opts geolocation.Options) (models.Fix, error) {
	if err := ctx.Err(); err != nil {
		return models.Fix{}, geolocation.NewError(geolocation.CodeTimeout, err.Error())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.step++
	return f.fixAt(f.step, opts.HighAccuracy), nil
}

func (f *FakeSource) Watch(ctx context.Context, opts geolocation.Options) (geolocation.Watch, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := &fakeWatch{ch: make(chan geolocation.Event, 1), cancel: cancel}
	go func() {
		defer close(w.ch)
		t := time.NewTicker(f.interval)
		defer t.Stop()
		for {
			fix, _ := f.CurrentPosition(ctx, opts)
			select {
			case w.ch <- geolocation.Event{Fix: &fix}:
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

// fixAt moves roughly 10 m north-east per step with a few metres of jitter.
func (f *FakeSource) fixAt(step int, highAccuracy bool) models.Fix {
	h := fnv.New32a()
	var b [8]byte
	v := f.seed + uint32(step)
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
	_, _ = h.Write(b[:4])
	j := h.Sum32()

	jitterLat := (float64(j%200) - 100) * 1e-7
	jitterLon := (float64((j/200)%200) - 100) * 1e-7

	acc := 8.0
	if !highAccuracy {
		acc = 60.0
	}
	return models.Fix{
		Latitude:       f.start.Latitude + float64(step)*9e-5 + jitterLat,
		Longitude:      f.start.Longitude + float64(step)*9e-5 + jitterLon,
		AccuracyMeters: acc,
		CapturedAt:     time.Now().UTC(),
	}
}

type fakeWatch struct {
	ch     chan geolocation.Event
	cancel context.CancelFunc
	once   sync.Once
}

func (w *fakeWatch) Events() <-chan geolocation.Event { return w.ch }

func (w *fakeWatch) Stop() { w.once.Do(w.cancel) }
