package hudbus

import (
	"time"
)

// Fields is the open set of event-specific values supplied by an emitter.
type Fields map[string]any

// Payload is what a handler receives for one emission.
// Type and Timestamp are always set by the bus and win over any
// "type"/"timestamp" keys the emitter put in its data.
type Payload struct {
	Type      string  // Event name the payload was emitted under
	Timestamp float64 // Milliseconds since the bus was built (monotonic)
	Fields    Fields  // Copy of the emitter's data, owned by the handler
}

// Get returns a field value.
func (p Payload) Get(key string) (any, bool) {
	v, ok := p.Fields[key]
	return v, ok
}

// Float returns a numeric field as float64. Integer kinds are converted.
func (p Payload) Float(key string) (float64, bool) {
	switch v := p.Fields[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// String returns a string field.
func (p Payload) String(key string) (string, bool) {
	v, ok := p.Fields[key].(string)
	return v, ok
}

// Subscription identifies one handler registration. It is the only handle a
// caller keeps; the bus owns the registration itself.
type Subscription struct {
	EventName string
	ID        uint64
}

// InstrumentationOptions tunes the metrics collected by Emit.
type InstrumentationOptions struct {
	// HighFrequencyThresholdHz flags an event as hot once its observed
	// emission frequency goes above it (default 60).
	HighFrequencyThresholdHz float64
	// SlowHandlerThresholdMs reports a handler as slow when a single call
	// takes longer (default 16).
	SlowHandlerThresholdMs float64
}

const (
	DefaultHighFrequencyThresholdHz = 60
	DefaultSlowHandlerThresholdMs   = 16
)

func (o InstrumentationOptions) withDefaults() InstrumentationOptions {
	if o.HighFrequencyThresholdHz <= 0 {
		o.HighFrequencyThresholdHz = DefaultHighFrequencyThresholdHz
	}
	if o.SlowHandlerThresholdMs <= 0 {
		o.SlowHandlerThresholdMs = DefaultSlowHandlerThresholdMs
	}
	return o
}

// PerformanceRecord aggregates dispatch statistics for one event name.
type PerformanceRecord struct {
	Count            uint64
	TotalExecutionMs float64
	AvgExecutionMs   float64
	MinExecutionMs   float64
	MaxExecutionMs   float64
	LastEmittedAt    float64 // Payload timestamp of the latest emission
	FrequencyHz      float64 // Smoothed from inter-emission gaps
	HighFrequency    bool
}

// EventType enumerates bus lifecycle events delivered to observers.
type EventType string

const (
	Subscribed    EventType = "subscribe"
	Unsubscribed  EventType = "unsubscribe"
	HandlerFault  EventType = "handler_fault"
	SlowHandler   EventType = "slow_handler"
	HighFrequency EventType = "high_frequency"
	Cleared       EventType = "clear"
)

// Event carries telemetry for observers.
type Event struct {
	Type           EventType
	EventName      string
	SubscriptionID uint64
	Handler        string
	Duration       time.Duration
	FrequencyHz    float64
	Err            error
}

// BusStats is an aggregate view over all channels.
type BusStats struct {
	Emitted       uint64
	Delivered     uint64
	Faults        uint64
	SlowHandlers  uint64
	RejectedNames uint64
	Channels      int
	Subscriptions int
}

// HealthStatus summarizes bus health for health checks.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Stats     BusStats
	Timestamp time.Time
	Message   string
}
