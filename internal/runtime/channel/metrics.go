package channel

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/luaflow/internal/runtime/errors"
)

// Message directions counted by Metrics.
const (
	DirectionPost    = "post"
	DirectionReceive = "receive"
	DirectionEmit    = "emit"
)

// Metrics tracks channel statistics.
type Metrics struct {
	mu sync.RWMutex

	// Per-channel counts
	channels map[string]*ChannelStats

	// Prometheus collectors
	messagesTotal *prometheus.CounterVec
	hooksTotal    *prometheus.CounterVec
	faultsTotal   *prometheus.CounterVec
	hookSeconds   *prometheus.HistogramVec
	state         *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

// ChannelStats holds the counters of one channel.
type ChannelStats struct {
	Posted        uint64    `json:"posted"`
	Received      uint64    `json:"received"`
	Emitted       uint64    `json:"emitted"`
	HookCalls     uint64    `json:"hook_calls"`
	Faults        uint64    `json:"faults"`
	State         string    `json:"state"`
	LastFaultAt   time.Time `json:"last_fault_at,omitempty"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// MetricsSnapshot provides a point-in-time view of channel metrics.
type MetricsSnapshot struct {
	TotalMessages uint64                   `json:"total_messages"`
	TotalFaults   uint64                   `json:"total_faults"`
	Channels      map[string]*ChannelStats `json:"channels"`
	CollectedAt   time.Time                `json:"collected_at"`
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "luaflow",
			Subsystem: "channel",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates a new channel metrics collector.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		channels:      make(map[string]*ChannelStats),
		registerer:    registerer,
		messagesTotal: newCounterVec("messages_total", "Messages handled by lua channels", []string{"channel", "direction"}),
		hooksTotal:    newCounterVec("hooks_total", "Script hook invocations", []string{"channel", "hook", "result"}),
		faultsTotal:   newCounterVec("faults_total", "Script hook faults by kind", []string{"channel", "kind"}),
		hookSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "luaflow",
				Subsystem: "channel",
				Name:      "hook_duration_seconds",
				Help:      "Duration of script hook invocations",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"channel", "hook"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "luaflow",
				Subsystem: "channel",
				Name:      "state",
				Help:      "Current channel state (0 Closed, 1 Opening, 2 Active, 3 Closing, 4 Error, 5 Destroy)",
			},
			[]string{"channel"},
		),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.messagesTotal,
		m.hooksTotal,
		m.faultsTotal,
		m.hookSeconds,
		m.state,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordMessage counts one message in the given direction.
func (m *Metrics) RecordMessage(channel, direction string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(channel)
	switch direction {
	case DirectionPost:
		stats.Posted++
	case DirectionReceive:
		stats.Received++
	case DirectionEmit:
		stats.Emitted++
	}
	stats.LastUpdatedAt = time.Now()

	m.messagesTotal.WithLabelValues(channel, direction).Inc()
}

// RecordHook records one hook invocation.
func (m *Metrics) RecordHook(channel, hook string, d time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(channel)
	stats.HookCalls++
	stats.LastUpdatedAt = time.Now()

	result := "ok"
	if !ok {
		result = "fault"
	}
	m.hooksTotal.WithLabelValues(channel, hook, result).Inc()
	m.hookSeconds.WithLabelValues(channel, hook).Observe(d.Seconds())
}

// RecordFault counts a hook fault.
func (m *Metrics) RecordFault(channel string, kind errspkg.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(channel)
	stats.Faults++
	stats.LastFaultAt = time.Now()
	stats.LastUpdatedAt = stats.LastFaultAt

	m.faultsTotal.WithLabelValues(channel, kind.String()).Inc()
}

// RecordState sets the current state of a channel.
func (m *Metrics) RecordState(channel string, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(channel)
	stats.State = s.String()
	stats.LastUpdatedAt = time.Now()

	m.state.WithLabelValues(channel).Set(float64(s))
}

// GetSnapshot returns a point-in-time snapshot of all channel metrics.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Channels:    make(map[string]*ChannelStats, len(m.channels)),
		CollectedAt: time.Now(),
	}
	for name, stats := range m.channels {
		c := *stats
		snapshot.Channels[name] = &c
		snapshot.TotalMessages += stats.Posted + stats.Received + stats.Emitted
		snapshot.TotalFaults += stats.Faults
	}
	return snapshot
}

// GetChannelStats returns a copy of the stats of one channel, nil when
// nothing was recorded for it.
func (m *Metrics) GetChannelStats(channel string) *ChannelStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if stats, ok := m.channels[channel]; ok {
		c := *stats
		return &c
	}
	return nil
}

func (m *Metrics) getOrCreate(channel string) *ChannelStats {
	if stats, ok := m.channels[channel]; ok {
		return stats
	}
	stats := &ChannelStats{}
	m.channels[channel] = stats
	return stats
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.channels = make(map[string]*ChannelStats)
	m.messagesTotal.Reset()
	m.hooksTotal.Reset()
	m.faultsTotal.Reset()
	m.hookSeconds.Reset()
	m.state.Reset()
}
