// Package alerting turns error traces into deduplicated notifications.
package alerting

import (
	"encoding/json"
	"fmt"
	"time"
)

// Trace is one execution trace of a worker invocation.
type Trace struct {
	ScriptName     string      `json:"script_name,omitempty"`
	Outcome        string      `json:"outcome"`
	EventTimestamp time.Time   `json:"event_timestamp"`
	Origin         Origin      `json:"-"`
	Exceptions     []Exception `json:"exceptions,omitempty"`
	Logs           []LogEntry  `json:"logs,omitempty"`
}

type Exception struct {
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type LogEntry struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Origin is what started the traced invocation. It is one of FetchOrigin,
// QueueOrigin or ScheduledOrigin, or nil when unknown.
type Origin interface {
	isOrigin()
}

type FetchOrigin struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type QueueOrigin struct {
	Queue     string `json:"queue"`
	BatchSize int    `json:"batch_size"`
}

type ScheduledOrigin struct {
	Cron          string    `json:"cron"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

func (FetchOrigin) isOrigin()     {}
func (QueueOrigin) isOrigin()     {}
func (ScheduledOrigin) isOrigin() {}

// Origin kinds on the wire.
const (
	OriginFetch     = "fetch"
	OriginQueue     = "queue"
	OriginScheduled = "scheduled"
)

type traceAlias Trace

type wireTrace struct {
	traceAlias
	Event json.RawMessage `json:"event,omitempty"`
}

type wireOrigin struct {
	Kind string `json:"kind"`
}

// UnmarshalJSON decodes the "event" object by its "kind" tag. Unknown kinds
// leave Origin nil.
func (t *Trace) UnmarshalJSON(data []byte) error {
	var w wireTrace
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Trace(w.traceAlias)
	t.Origin = nil
	if len(w.Event) == 0 || string(w.Event) == "null" {
		return nil
	}

	var kind wireOrigin
	if err := json.Unmarshal(w.Event, &kind); err != nil {
		return fmt.Errorf("decode trace event: %w", err)
	}
	var err error
	switch kind.Kind {
	case OriginFetch:
		var o FetchOrigin
		err = json.Unmarshal(w.Event, &o)
		t.Origin = o
	case OriginQueue:
		var o QueueOrigin
		err = json.Unmarshal(w.Event, &o)
		t.Origin = o
	case OriginScheduled:
		var o ScheduledOrigin
		err = json.Unmarshal(w.Event, &o)
		t.Origin = o
	}
	if err != nil {
		return fmt.Errorf("decode %s event: %w", kind.Kind, err)
	}
	return nil
}

// MarshalJSON writes Origin back under "event" with its kind tag.
func (t Trace) MarshalJSON() ([]byte, error) {
	w := wireTrace{traceAlias: traceAlias(t)}
	var ev any
	switch o := t.Origin.(type) {
	case FetchOrigin:
		ev = struct {
			Kind string `json:"kind"`
			FetchOrigin
		}{OriginFetch, o}
	case QueueOrigin:
		ev = struct {
			Kind string `json:"kind"`
			QueueOrigin
		}{OriginQueue, o}
	case ScheduledOrigin:
		ev = struct {
			Kind string `json:"kind"`
			ScheduledOrigin
		}{OriginScheduled, o}
	}
	if ev != nil {
		raw, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		w.Event = raw
	}
	return json.Marshal(w)
}
