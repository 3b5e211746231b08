package router

import v1 "github.com/landale/eventpipe/internal/api/v1"

// DefaultCriticalTypes bypass batching: connection loss, stream and recording
// start/stop, service down and authentication failures.
var DefaultCriticalTypes = []string{
	"connection_lost",
	"obs.connection.lost",
	"ironmon.connection.lost",
	"stream_started",
	"stream_stopped",
	"recording_started",
	"recording_stopped",
	"obs.stream.started",
	"obs.stream.stopped",
	"obs.recording.started",
	"obs.recording.stopped",
	"stream.online",
	"stream.offline",
	"service_down",
	"system.service_down",
	"authentication_failed",
	"system.authentication_failed",
}

// DefaultImmediateTypes are lifecycle events that are never delayed even
// though they are not critical.
var DefaultImmediateTypes = []string{
	"system.started",
	"system.stopping",
	"system.service_up",
	"system.config_reloaded",
}

// DefaultBatchableTypes are high-volume types that may wait one window.
var DefaultBatchableTypes = []string{
	"channel.chat.message",
	"channel.follow",
	"channel.cheer",
	"channel.subscribe",
	"channel.subscription.message",
	"channel.subscription.gift",
	"channel.channel_points_custom_reward_redemption.add",
	"ironmon.location",
	"obs.stats.updated",
}

type typeSet map[string]struct{}

func newTypeSet(types []string) typeSet {
	s := make(typeSet, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

func (s typeSet) has(t string) bool {
	_, ok := s[t]
	return ok
}

// Policy holds the three allowlists that drive routing decisions.
type Policy struct {
	batchable typeSet
	critical  typeSet
	immediate typeSet
}

// NewPolicy builds a policy. Nil lists fall back to the defaults; empty
// non-nil lists are kept empty.
func NewPolicy(batchable, critical, immediate []string) Policy {
	if batchable == nil {
		batchable = DefaultBatchableTypes
	}
	if critical == nil {
		critical = DefaultCriticalTypes
	}
	if immediate == nil {
		immediate = DefaultImmediateTypes
	}
	return Policy{
		batchable: newTypeSet(batchable),
		critical:  newTypeSet(critical),
		immediate: newTypeSet(immediate),
	}
}

// DefaultPolicy uses the built-in allowlists.
func DefaultPolicy() Policy {
	return NewPolicy(nil, nil, nil)
}

// Priority resolves an event's priority. An explicit override wins, then a
// priority the producer set on the event, then the critical allowlist.
func (p Policy) Priority(evt *v1.Event, override v1.Priority) v1.Priority {
	if override != "" {
		return override
	}
	if evt.PriorityExplicit() {
		return evt.Metadata.Priority
	}
	if p.critical.has(evt.Type) {
		return v1.PriorityCritical
	}
	return v1.PriorityNormal
}

// IsCritical reports whether eventType is on the critical allowlist.
func (p Policy) IsCritical(eventType string) bool {
	return p.critical.has(eventType)
}

// IsImmediate reports whether eventType is on the always-immediate allowlist.
func (p Policy) IsImmediate(eventType string) bool {
	return p.immediate.has(eventType)
}

// IsBatchable reports whether eventType may be batched.
func (p Policy) IsBatchable(eventType string) bool {
	return p.batchable.has(eventType)
}
