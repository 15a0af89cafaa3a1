// Package network reports connectivity to the remote store.
//
// The sync coordinator only needs a boolean and its transitions; how that
// boolean is produced (TCP probe, OS callback, a test toggle) stays behind
// the Monitor interface.
package network

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/converso-app/backend/internal/logging"
)

// Monitor reports whether the remote store is reachable and notifies on
// transitions.
type Monitor interface {
	// Online returns the current connectivity state.
	Online() bool
	// Subscribe returns a channel receiving the new state on every
	// transition. The channel is never closed while the monitor runs.
	Subscribe() <-chan bool
}

// ProbeMonitor establishes connectivity by periodically dialing the remote
// endpoint. Only edges are published: a flapping probe produces alternating
// true/false, a stable one produces nothing.
type ProbeMonitor struct {
	addr     string
	interval time.Duration

	mu     sync.RWMutex
	online bool
	subs   []chan bool
}

// NewProbeMonitor creates a monitor probing the host of endpoint. Accepts a
// URL (https://..., postgres://...) or a bare host:port.
func NewProbeMonitor(endpoint string, interval time.Duration) *ProbeMonitor {
	return &ProbeMonitor{
		addr:     probeAddr(endpoint),
		interval: interval,
	}
}

// probeAddr extracts a dialable host:port from the configured endpoint.
func probeAddr(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "http", "ws":
			host = net.JoinHostPort(u.Hostname(), "80")
		case "postgres", "postgresql":
			host = net.JoinHostPort(u.Hostname(), "5432")
		default:
			host = net.JoinHostPort(u.Hostname(), "443")
		}
	}
	return host
}

// Online implements Monitor.Online.
func (m *ProbeMonitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe implements Monitor.Subscribe.
func (m *ProbeMonitor) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan bool, 4)
	m.subs = append(m.subs, ch)
	return ch
}

// Run probes until ctx is cancelled. The first probe runs immediately so
// startup does not wait a full interval to come online.
func (m *ProbeMonitor) Run(ctx context.Context) {
	m.probe()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

// probe dials once and publishes a transition if the state flipped.
func (m *ProbeMonitor) probe() {
	conn, err := net.DialTimeout("tcp", m.addr, 3*time.Second)
	online := err == nil
	if conn != nil {
		conn.Close()
	}

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	subs := m.subs
	m.mu.Unlock()

	if !changed {
		return
	}

	logging.Info("Connectivity changed", map[string]interface{}{
		"online": online,
		"addr":   m.addr,
	})

	for _, ch := range subs {
		// Drop rather than block: a slow subscriber misses an edge but the
		// next transition still reaches it.
		select {
		case ch <- online:
		default:
		}
	}
}

// StaticMonitor is a settable monitor for tests and for deployments that
// wire an external connectivity signal.
type StaticMonitor struct {
	mu     sync.RWMutex
	online bool
	subs   []chan bool
}

// NewStaticMonitor creates a StaticMonitor in the given state.
func NewStaticMonitor(online bool) *StaticMonitor {
	return &StaticMonitor{online: online}
}

// Online implements Monitor.Online.
func (m *StaticMonitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe implements Monitor.Subscribe.
func (m *StaticMonitor) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan bool, 4)
	m.subs = append(m.subs, ch)
	return ch
}

// Set flips the state and publishes the transition.
func (m *StaticMonitor) Set(online bool) {
	m.mu.Lock()
	changed := online != m.online
	m.online = online
	subs := m.subs
	m.mu.Unlock()

	if !changed {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- online:
		default:
		}
	}
}
