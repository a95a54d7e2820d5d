// Package netmon tracks online/offline transitions against the server of
// record and fans the transitions out to subscribers.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pinger is the probe target, satisfied by the server gateway.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes the server on an interval and reports connectivity
// transitions. SetOnline allows the agent (or a test) to force a state,
// for example when the host OS reports the link going down.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a monitor. The monitor starts in the online state; the
// first failed probe flips it.
func New(pinger Pinger, interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		pinger:   pinger,
		interval: interval,
		timeout:  interval / 2,
		logger:   logger,
		online:   true,
		subs:     make(map[int]chan bool),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the probe loop. It returns immediately.
func (m *Monitor) Start() {
	go m.loop()
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *Monitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	err := m.pinger.Ping(ctx)
	m.SetOnline(err == nil)
}

// Online reports current connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records connectivity and notifies subscribers on transitions.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]chan bool, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	if online {
		m.logger.Info("network restored")
	} else {
		m.logger.Warn("network lost")
	}

	for _, ch := range subs {
		// Subscriber channels are buffered; a slow subscriber misses
		// intermediate flaps but always observes the latest transition
		// eventually via Online().
		select {
		case ch <- online:
		default:
		}
	}
}

// Subscribe registers for transition events. The returned cancel func
// must be called to release the subscription.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan bool, 4)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
