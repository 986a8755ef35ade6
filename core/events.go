package core

import "time"

// EventKind names a simulation event published to observers.
type EventKind string

const (
	EventBeaconPlaced   EventKind = "beacon_placed"
	EventBeaconRemoved  EventKind = "beacon_removed"
	EventBeaconUpgraded EventKind = "beacon_upgraded"
	EventProbeQueued    EventKind = "probe_queued"
	EventProbeLaunched  EventKind = "probe_launched"
	EventProbeProgress  EventKind = "probe_progress"
	EventProbeDeployed  EventKind = "probe_deployed"
	EventGenerationTick EventKind = "generation_tick"
	EventPatternsChange EventKind = "patterns_changed"
)

// Event is one notification emitted by the simulation. Payload carries
// plain data only; observers never receive authoritative objects.
type Event struct {
	Kind    EventKind
	At      time.Time
	Payload any
}

// EventSink receives simulation events. Implementations must not
// block: the tick loop publishes synchronously.
type EventSink interface {
	Publish(Event)
}

// NoopSink drops every event. Used by tests and headless runs.
type NoopSink struct{}

func (NoopSink) Publish(Event) {}

// ChannelSink forwards events into a buffered channel, dropping when
// the consumer falls behind so the tick loop never stalls.
type ChannelSink struct {
	C chan Event
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{C: make(chan Event, buffer)}
}

func (s *ChannelSink) Publish(ev Event) {
	select {
	case s.C <- ev:
	default:
	}
}

// multiSink fans one event out to several sinks.
type multiSink struct {
	sinks []EventSink
}

// MultiSink combines sinks; nil entries are skipped.
func MultiSink(sinks ...EventSink) EventSink {
	out := make([]EventSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &multiSink{sinks: out}
}

func (m *multiSink) Publish(ev Event) {
	for _, s := range m.sinks {
		s.Publish(ev)
	}
}
