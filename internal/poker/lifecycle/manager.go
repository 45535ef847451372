// Package lifecycle evicts idle sessions. Each session carries one timer;
// activity reschedules it and expiry hands the code to an eviction callback.
package lifecycle

import (
	"sync"
	"time"

	"github.com/ybrake1950/planning-poker/internal/platform/timeouts"
)

// Manager tracks per-session idle timers. Eviction is the only deletion path
// for sessions, so the callback owns the notify-then-delete sequence.
type Manager struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	idle    time.Duration
	expire  func(code string)
	stopped bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout overrides the default idle window.
func WithIdleTimeout(idle time.Duration) Option {
	return func(m *Manager) {
		if idle > 0 {
			m.idle = idle
		}
	}
}

// NewManager creates a lifecycle manager that calls expire with the session
// code once the session has been idle for the configured window.
func NewManager(expire func(code string), opts ...Option) *Manager {
	m := &Manager{
		timers: make(map[string]*time.Timer),
		idle:   timeouts.SessionIdle,
		expire: expire,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Touch reschedules the session's eviction timer for a full idle window from
// now. Called on every successful state transition.
func (m *Manager) Touch(code string) {
	m.ScheduleAfter(code, m.idle)
}

// ScheduleAfter reschedules the session's eviction timer to fire after d.
// The empty-session grace path uses a shorter window than Touch.
func (m *Manager) ScheduleAfter(code string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	if timer, ok := m.timers[code]; ok {
		timer.Stop()
	}
	m.timers[code] = time.AfterFunc(d, func() {
		m.fire(code)
	})
}

func (m *Manager) fire(code string) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	delete(m.timers, code)
	expire := m.expire
	m.mu.Unlock()

	if expire != nil {
		expire(code)
	}
}

// Cancel drops the session's timer without evicting, used when the session
// is deleted through eviction itself.
func (m *Manager) Cancel(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.timers[code]; ok {
		timer.Stop()
		delete(m.timers, code)
	}
}

// IdleTimeout returns the configured idle window.
func (m *Manager) IdleTimeout() time.Duration {
	return m.idle
}

// Stop cancels all timers. No eviction callbacks run after Stop returns.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	for code, timer := range m.timers {
		timer.Stop()
		delete(m.timers, code)
	}
}
