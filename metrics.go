package hudbus

import "sort"

// frequencyAlpha weights the newest inter-emission sample in the EMA.
const frequencyAlpha = 0.2

// SetInstrumentation toggles metrics collection. While disabled, Emit does no
// timing work beyond stamping the payload.
func (b *Bus) SetInstrumentation(enabled bool, opts InstrumentationOptions) {
	b.instMu.Lock()
	b.inst = opts.withDefaults()
	b.instMu.Unlock()
	b.instrumented.Store(enabled)
}

// Instrumented reports whether metrics collection is on.
func (b *Bus) Instrumented() bool { return b.instrumented.Load() }

func (b *Bus) instrumentation() InstrumentationOptions {
	b.instMu.Lock()
	defer b.instMu.Unlock()
	return b.inst
}

// record folds one dispatch into the event's record and reports whether the
// hot flag flipped.
func (b *Bus) record(eventName string, at, execMs float64, opts InstrumentationOptions) (hot, changed bool) {
	b.instMu.Lock()
	defer b.instMu.Unlock()

	r, ok := b.records[eventName]
	if !ok {
		r = &PerformanceRecord{MinExecutionMs: execMs, MaxExecutionMs: execMs}
		b.records[eventName] = r
	} else {
		if gap := at - r.LastEmittedAt; gap > 0 {
			sample := 1000 / gap
			if r.FrequencyHz == 0 {
				r.FrequencyHz = sample
			} else {
				r.FrequencyHz = sample*frequencyAlpha + r.FrequencyHz*(1-frequencyAlpha)
			}
		}
		if execMs < r.MinExecutionMs {
			r.MinExecutionMs = execMs
		}
		if execMs > r.MaxExecutionMs {
			r.MaxExecutionMs = execMs
		}
	}

	r.Count++
	r.TotalExecutionMs += execMs
	r.AvgExecutionMs = r.TotalExecutionMs / float64(r.Count)
	r.LastEmittedAt = at

	hot = r.FrequencyHz > opts.HighFrequencyThresholdHz
	changed = hot != r.HighFrequency
	r.HighFrequency = hot
	return hot, changed
}

// Record returns a copy of the performance record for eventName.
func (b *Bus) Record(eventName string) (PerformanceRecord, bool) {
	b.instMu.Lock()
	defer b.instMu.Unlock()
	r, ok := b.records[eventName]
	if !ok {
		return PerformanceRecord{}, false
	}
	return *r, true
}

// Metrics returns a copy of every performance record keyed by event name.
func (b *Bus) Metrics() map[string]PerformanceRecord {
	b.instMu.Lock()
	defer b.instMu.Unlock()
	out := make(map[string]PerformanceRecord, len(b.records))
	for name, r := range b.records {
		out[name] = *r
	}
	return out
}

// HotEvents lists events currently above the high-frequency threshold,
// hottest first.
func (b *Bus) HotEvents() []string {
	b.instMu.Lock()
	type hot struct {
		name string
		hz   float64
	}
	var list []hot
	for name, r := range b.records {
		if r.HighFrequency {
			list = append(list, hot{name: name, hz: r.FrequencyHz})
		}
	}
	b.instMu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].hz > list[j].hz })
	names := make([]string, len(list))
	for i, h := range list {
		names[i] = h.name
	}
	return names
}

// ResetMetrics discards all performance records.
func (b *Bus) ResetMetrics() {
	b.instMu.Lock()
	b.records = make(map[string]*PerformanceRecord)
	b.instMu.Unlock()
}
