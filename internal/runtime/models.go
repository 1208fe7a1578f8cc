package runtime

import (
	"time"

	"github.com/drblury/luaflow/internal/runtime/channel"
)

// ChannelInfo is the status of one hosted channel.
type ChannelInfo struct {
	Name       string                `json:"name"`
	Variant    string                `json:"variant"`
	State      string                `json:"state"`
	Child      string                `json:"child,omitempty"`
	ChildState string                `json:"child_state,omitempty"`
	Stats      *channel.ChannelStats `json:"stats,omitempty"`
}

// ResourceUsage is a coarse sample of the process resources.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// ServiceStatus is the snapshot served by the web UI.
type ServiceStatus struct {
	Channels      []ChannelInfo `json:"channels"`
	TotalMessages uint64        `json:"total_messages"`
	TotalFaults   uint64        `json:"total_faults"`
	Resource      ResourceUsage `json:"resource"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	CollectedAt   time.Time     `json:"collected_at"`
}

func channelInfo(l *channel.Lua, m *channel.Metrics) ChannelInfo {
	info := ChannelInfo{
		Name:    l.Name(),
		Variant: string(l.Variant()),
		State:   l.State().String(),
	}
	if child := l.ChildChannel(); child != nil {
		info.Child = child.Name()
		info.ChildState = child.State().String()
	}
	if m != nil {
		info.Stats = m.GetChannelStats(l.Name())
	}
	return info
}

// Status collects the state and statistics of every hosted channel.
func (s *Service) Status() ServiceStatus {
	status := ServiceStatus{
		Resource:    s.resourceTracker.Snapshot(),
		CollectedAt: time.Now(),
	}
	if !s.startedAt.IsZero() {
		status.UptimeSeconds = time.Since(s.startedAt).Seconds()
	}
	for _, l := range s.Channels() {
		status.Channels = append(status.Channels, channelInfo(l, s.metrics))
	}
	if s.metrics != nil {
		snap := s.metrics.GetSnapshot()
		status.TotalMessages = snap.TotalMessages
		status.TotalFaults = snap.TotalFaults
	}
	return status
}
