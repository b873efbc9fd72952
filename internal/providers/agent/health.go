package agent

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoochat/internal/logger"
	"github.com/yoockh/yoochat/internal/metrics"
)

const DefaultProbeTimeout = 10 * time.Second

type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Available is true only for CONNECTED.
func (s Status) Available() bool { return s == StatusConnected }

// Prober performs a lightweight reachability call against the agent.
type Prober interface {
	Ping(ctx context.Context) error
}

// HealthMonitor holds the engine's belief about agent reachability. Every
// outbound send consults IsAvailable first.
type HealthMonitor struct {
	prober       Prober
	probeTimeout time.Duration
	log          *logrus.Entry

	// deliver serializes transitions with their observer calls so observers
	// see them in the order they happened.
	deliver sync.Mutex

	mu          sync.RWMutex
	status      Status
	lastSuccess time.Time
	streamDown  bool
	observers   []func(Status)
}

func NewHealthMonitor(prober Prober, probeTimeout time.Duration, l *logrus.Logger) *HealthMonitor {
	if probeTimeout <= 0 || probeTimeout > DefaultProbeTimeout {
		probeTimeout = DefaultProbeTimeout
	}
	return &HealthMonitor{
		prober:       prober,
		probeTimeout: probeTimeout,
		log:          logger.Component(l, "agent_health"),
		status:       StatusDisconnected,
	}
}

func (h *HealthMonitor) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *HealthMonitor) IsAvailable() bool { return h.Status().Available() }

func (h *HealthMonitor) LastSuccess() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastSuccess
}

// Subscribe registers fn to be called on every status transition. fn must
// not call SetStatus or Probe.
func (h *HealthMonitor) Subscribe(fn func(Status)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, fn)
}

// SetStatus records the state of the inbound stream link. Observers and logs
// only see actual transitions.
func (h *HealthMonitor) SetStatus(s Status) { h.update(s, true) }

func (h *HealthMonitor) update(s Status, fromStream bool) {
	h.deliver.Lock()
	defer h.deliver.Unlock()

	h.mu.Lock()
	if fromStream {
		h.streamDown = s != StatusConnected
	} else if s == StatusConnected && h.streamDown {
		// HTTP reachable but nothing to receive responses on
		h.lastSuccess = time.Now()
		h.mu.Unlock()
		return
	}
	prev := h.status
	h.status = s
	if s == StatusConnected {
		h.lastSuccess = time.Now()
	}
	observers := append([]func(Status){}, h.observers...)
	h.mu.Unlock()

	metrics.AgentHealth.Set(float64(s))
	if prev == s {
		return
	}

	h.log.WithFields(logrus.Fields{"from": prev.String(), "to": s.String()}).Info("agent health changed")
	for _, fn := range observers {
		h.notify(fn, s)
	}
}

func (h *HealthMonitor) notify(fn func(Status), s Status) {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithField("panic", r).Error("health observer panicked")
		}
	}()
	fn(s)
}

// Probe pings the agent once under the probe timeout and updates the status.
// A successful ping only records the success while the stream link is down.
func (h *HealthMonitor) Probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	if err := h.prober.Ping(ctx); err != nil {
		h.log.WithError(err).Debug("agent probe failed")
		h.update(StatusDisconnected, false)
		return
	}
	h.update(StatusConnected, false)
}
