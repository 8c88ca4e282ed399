package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/brokers"
	"github.com/bostonrobbie/signalbridge/src/model"
	"github.com/bostonrobbie/signalbridge/src/utils"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ConnectionSource is the slice of the registry the monitor needs.
type ConnectionSource interface {
	Connections() []*brokers.Connection
}

// ConnectionHealth is the latest observation for one connection.
type ConnectionHealth struct {
	ConnectionID string            `json:"connection_id"`
	Broker       model.Broker      `json:"broker"`
	Score        int               `json:"score"`
	State        string            `json:"state"`
	Snapshot     *brokers.Snapshot `json:"snapshot"`
}

// Alert records a state transition worth telling an operator about.
type Alert struct {
	Severity     string       `json:"severity"`
	Broker       model.Broker `json:"broker"`
	ConnectionID string       `json:"connection_id"`
	State        string       `json:"state"`
	Message      string       `json:"message"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Report is the aggregate view served to operators.
type Report struct {
	GeneratedAt     time.Time          `json:"generated_at"`
	Overall         string             `json:"overall"`
	Connections     []ConnectionHealth `json:"connections"`
	Alerts          []Alert            `json:"alerts"`
	Recommendations []string           `json:"recommendations"`
}

// HealthMonitor polls every registered connection on a fixed cadence,
// tracks state transitions, and keeps a bounded alert history. Polling is
// driven only by Run; a poll that overruns the cadence is skipped rather
// than stacked.
type HealthMonitor struct {
	config Config
	source ConnectionSource
	now    func() time.Time

	polling atomic.Bool

	mu          sync.RWMutex
	health      map[string]*ConnectionHealth
	lastState   map[string]string
	alerts      *utils.Ring[Alert]
	lastAlertAt map[string]time.Time
}

func NewHealthMonitor(config Config, source ConnectionSource) *HealthMonitor {
	history := config.AlertHistory
	if history < 1 {
		history = 100
	}
	return &HealthMonitor{
		config:      config,
		source:      source,
		now:         time.Now,
		health:      make(map[string]*ConnectionHealth),
		lastState:   make(map[string]string),
		alerts:      utils.NewRing[Alert](history),
		lastAlertAt: make(map[string]time.Time),
	}
}

// Run polls until ctx is canceled. The first poll happens immediately.
func (m *HealthMonitor) Run(ctx context.Context) {
	interval := m.config.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m.Poll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll checks every connection once. Overlapping calls are dropped.
func (m *HealthMonitor) Poll(ctx context.Context) {
	if !m.polling.CompareAndSwap(false, true) {
		logger.Warn("previous health poll still running, skipping")
		return
	}
	defer m.polling.Store(false)

	conns := m.source.Connections()
	seen := make(map[string]bool, len(conns))

	for _, conn := range conns {
		snapshot := conn.Client.Health(ctx)
		seen[conn.ID] = true
		m.observe(conn, snapshot)
	}

	m.mu.Lock()
	for id := range m.health {
		if !seen[id] {
			delete(m.health, id)
			delete(m.lastState, id)
		}
	}
	m.pruneAlertTimes()
	m.mu.Unlock()
}

func (m *HealthMonitor) observe(conn *brokers.Connection, snapshot *brokers.Snapshot) {
	state := snapshot.State()
	score := snapshot.Score()

	m.mu.Lock()
	prev, known := m.lastState[conn.ID]
	m.lastState[conn.ID] = state
	m.health[conn.ID] = &ConnectionHealth{
		ConnectionID: conn.ID,
		Broker:       conn.Broker,
		Score:        score,
		State:        state,
		Snapshot:     snapshot,
	}
	m.mu.Unlock()

	if known && prev == state {
		return
	}
	if !known && state == brokers.StateHealthy {
		return
	}

	message := fmt.Sprintf("connection %s (score %d)", state, score)
	if state == brokers.StateHealthy {
		message = fmt.Sprintf("connection recovered (score %d)", score)
	}
	if snapshot.Message != "" {
		message += ": " + snapshot.Message
	}

	severity := SeverityInfo
	switch state {
	case brokers.StateUnhealthy:
		severity = SeverityCritical
	case brokers.StateDegraded:
		severity = SeverityWarning
	}

	m.raise(Alert{
		Severity:     severity,
		Broker:       conn.Broker,
		ConnectionID: conn.ID,
		State:        state,
		Message:      message,
		CreatedAt:    m.now(),
	})
}

// raise records an alert unless the same one fired within the dedupe
// window.
func (m *HealthMonitor) raise(alert Alert) {
	key := fmt.Sprintf("%s|%s|%s", alert.Broker, alert.ConnectionID, alert.Message)

	m.mu.Lock()
	if last, ok := m.lastAlertAt[key]; ok && alert.CreatedAt.Sub(last) < m.config.AlertDedupeWindow {
		m.mu.Unlock()
		return
	}
	m.lastAlertAt[key] = alert.CreatedAt
	m.alerts.Push(alert)
	m.mu.Unlock()

	entry := logger.WithFields(map[string]interface{}{
		"broker":        alert.Broker,
		"connection_id": alert.ConnectionID,
		"state":         alert.State,
	})
	switch alert.Severity {
	case SeverityCritical:
		entry.Error(alert.Message)
	case SeverityWarning:
		entry.Warn(alert.Message)
	default:
		entry.Info(alert.Message)
	}
}

// pruneAlertTimes drops dedupe entries old enough to never suppress
// again. Callers hold the lock.
func (m *HealthMonitor) pruneAlertTimes() {
	cutoff := m.now().Add(-m.config.AlertDedupeWindow)
	for key, at := range m.lastAlertAt {
		if at.Before(cutoff) {
			delete(m.lastAlertAt, key)
		}
	}
}

// Health returns the latest observations sorted by connection id.
func (m *HealthMonitor) Health() []ConnectionHealth {
	m.mu.RLock()
	out := make([]ConnectionHealth, 0, len(m.health))
	for _, h := range m.health {
		out = append(out, *h)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// Alerts returns the retained alert history, oldest first.
func (m *HealthMonitor) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alerts.Items()
}

// Report aggregates the current view: overall state buckets the mean
// connection score with the per-connection thresholds, and recommendations
// name the concrete operator actions the snapshots point at.
func (m *HealthMonitor) Report() *Report {
	connections := m.Health()

	recommendations := make([]string, 0)

	overall := brokers.StateUnhealthy
	if len(connections) == 0 {
		recommendations = append(recommendations, "no broker connections registered, signals cannot execute")
	} else {
		total := 0
		for _, h := range connections {
			total += h.Score
		}
		mean := float64(total) / float64(len(connections))
		switch {
		case mean >= 80:
			overall = brokers.StateHealthy
		case mean >= 50:
			overall = brokers.StateDegraded
		}
	}

	for _, h := range connections {
		if h.Snapshot == nil {
			continue
		}
		label := fmt.Sprintf("%s connection %s", h.Broker, h.ConnectionID)
		if !h.Snapshot.Connected {
			recommendations = append(recommendations, fmt.Sprintf("%s is unreachable, check the broker endpoint", label))
		}
		if !h.Snapshot.Authenticated {
			recommendations = append(recommendations, fmt.Sprintf("%s is not authenticated, re-register or refresh its credentials", label))
		} else if h.Snapshot.TokenFraction < 0.25 {
			recommendations = append(recommendations, fmt.Sprintf("%s session token is near expiry", label))
		}
		if h.Snapshot.CompetingSession {
			recommendations = append(recommendations, fmt.Sprintf("%s has a competing session, close the other login", label))
		}
	}

	return &Report{
		GeneratedAt:     m.now(),
		Overall:         overall,
		Connections:     connections,
		Alerts:          m.Alerts(),
		Recommendations: recommendations,
	}
}
