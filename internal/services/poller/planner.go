package poller

import (
	"math/rand"
	"time"
)

type Rand interface {
	Int63n(n int64) int64
}

type PlannerConfig struct {
	MaxAttempts int           // default: 3
	RetryBase   time.Duration // default: 1 second
	RetryMax    time.Duration // default: 1 minute

	// Jitter is a fraction of the delay added on top, 0 disables it.
	Jitter float64
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxAttempts: 3,
		RetryBase:   1 * time.Second,
		RetryMax:    1 * time.Minute,
	}
}

// Planner decides when a failed poll job runs again.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = def.RetryMax
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = cfg.RetryBase
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

func (p *Planner) MaxAttempts() int { return p.cfg.MaxAttempts }

// RetryDelay returns the delay before the next attempt after `failed`
// attempts have failed, and false once the attempts are exhausted.
// 1s, 2s, 4s... capped by RetryMax.
func (p *Planner) RetryDelay(failed int) (time.Duration, bool) {
	if failed < 1 {
		failed = 1
	}
	if failed >= p.cfg.MaxAttempts {
		return 0, false
	}

	d := p.cfg.RetryBase
	for i := 1; i < failed; i++ {
		d *= 2
		if d >= p.cfg.RetryMax {
			d = p.cfg.RetryMax
			break
		}
	}

	if p.cfg.Jitter > 0 {
		span := int64(float64(d) * p.cfg.Jitter)
		if span > 0 {
			d += time.Duration(p.r.Int63n(span + 1))
		}
	}
	return d, true
}
