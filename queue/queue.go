package queue

import (
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Config limits the execution of one task name.
type Config struct {
	// Name is the task name, as passed to worker.Registry.Register.
	Name string

	// MaxConcurrency caps the attempts of this task running at once in
	// the local pool. Zero leaves only the pool-wide limit.
	MaxConcurrency int

	// RateLimit is the sustained number of attempts started per second.
	// Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token bucket size, 1 when RateLimit is set and
	// RateBurst is not.
	RateBurst int
}

// Stats is a snapshot of one limited task.
type Stats struct {
	Name           string  `json:"name"`
	Active         int     `json:"active"`
	MaxConcurrency int     `json:"max_concurrency,omitempty"`
	RateLimit      float64 `json:"rate_limit,omitempty"`
	// Throttled counts refused Acquire calls since the limit was set.
	Throttled uint64 `json:"throttled"`
}

type limit struct {
	cfg       Config
	limiter   *rate.Limiter
	active    int
	throttled uint64
}

func newLimit(cfg Config) *limit {
	l := &limit{cfg: cfg}
	if cfg.RateLimit > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	return l
}

// admit reports whether one more attempt may start. Concurrency is checked
// first so a full task does not burn rate tokens.
func (l *limit) admit() bool {
	if l.cfg.MaxConcurrency > 0 && l.active >= l.cfg.MaxConcurrency {
		return false
	}
	return l.limiter == nil || l.limiter.Allow()
}

// Manager applies per-task limits. It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	limits map[string]*limit
}

// NewManager creates a Manager. Task names without a Config are not
// limited.
func NewManager(configs ...Config) *Manager {
	m := &Manager{limits: make(map[string]*limit, len(configs))}
	for _, cfg := range configs {
		m.limits[cfg.Name] = newLimit(cfg)
	}
	return m
}

// Acquire reserves a slot for one attempt of the task. A true result must
// be paired with Release.
func (m *Manager) Acquire(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.limits[name]
	if l == nil {
		return true
	}
	if !l.admit() {
		l.throttled++
		return false
	}
	l.active++
	return true
}

// Release frees the slot taken by Acquire.
func (m *Manager) Release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l := m.limits[name]; l != nil && l.active > 0 {
		l.active--
	}
}

// SetQueueConfig replaces or adds the limit of a task. Running attempts
// keep counting against the new limit.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := newLimit(cfg)
	if prev := m.limits[cfg.Name]; prev != nil {
		next.active = prev.active
	}
	m.limits[cfg.Name] = next
}

// ActiveCount returns the running attempts of a limited task.
func (m *Manager) ActiveCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.limits[name]; l != nil {
		return l.active
	}
	return 0
}

// Stats returns a snapshot of every limited task ordered by name.
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Stats, 0, len(m.limits))
	for name, l := range m.limits {
		out = append(out, Stats{
			Name:           name,
			Active:         l.active,
			MaxConcurrency: l.cfg.MaxConcurrency,
			RateLimit:      l.cfg.RateLimit,
			Throttled:      l.throttled,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
