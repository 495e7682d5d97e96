package viewer

import (
	"time"

	"github.com/freshbasket/livetrack/internal/models"
)

type PolicyConfig struct {
	Interval time.Duration // default: 10 seconds

	// Statuses that keep auto-refresh running. Default: Processing, Shipped.
	InMotion []string
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Interval: 10 * time.Second,
		InMotion: []string{models.OrderStatusProcessing, models.OrderStatusShipped},
	}
}

// Policy decides when the viewer refetches on its own.
type Policy struct {
	interval time.Duration
	inMotion map[string]struct{}
}

func NewPolicy(cfg PolicyConfig) *Policy {
	def := DefaultPolicyConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if len(cfg.InMotion) == 0 {
		cfg.InMotion = def.InMotion
	}
	p := &Policy{interval: cfg.Interval, inMotion: make(map[string]struct{}, len(cfg.InMotion))}
	for _, s := range cfg.InMotion {
		p.inMotion[s] = struct{}{}
	}
	return p
}

func (p *Policy) Interval() time.Duration { return p.interval }

// ShouldPoll reports whether a timer tick should fetch. Before the first
// successful fetch the status is unknown and polling continues.
func (p *Policy) ShouldPoll(status string, autoRefresh bool) bool {
	if !autoRefresh {
		return false
	}
	if status == "" {
		return true
	}
	_, ok := p.inMotion[status]
	return ok
}
