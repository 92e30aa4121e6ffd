package queue

import (
	"fmt"
	"time"
)

// Action is what the runtime does with a message once its handler returns.
type Action int

const (
	ActionAck Action = iota
	// ActionRetry redelivers the message through SQS and charges an attempt.
	ActionRetry
	// ActionDefer re-enqueues a delayed copy without charging an attempt.
	ActionDefer
	ActionDeadLetter
	// ActionRequeue re-enqueues a delayed copy with extra attributes; the
	// handler does its own attempt accounting through them.
	ActionRequeue
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionDefer:
		return "deferred"
	case ActionDeadLetter:
		return "dead_letter"
	case ActionRequeue:
		return "requeued"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Outcome is the result of handling one Envelope.
type Outcome struct {
	action Action
	delay  time.Duration
	kind   string
	reason string
	attrs  map[string]string
}

func Ack() Outcome {
	return Outcome{action: ActionAck}
}

// RetryAfter requests redelivery after d.
func RetryAfter(d time.Duration) Outcome {
	return Outcome{action: ActionRetry, delay: d}
}

// Defer requests a delayed redelivery that does not count as a failed attempt.
// It is used when admission is denied.
func Defer(d time.Duration) Outcome {
	return Outcome{action: ActionDefer, delay: d}
}

// DeadLetter routes the message to the dead-letter queue. kind is a short
// failure classification; reason is free text kept on the record.
func DeadLetter(kind, reason string) Outcome {
	return Outcome{action: ActionDeadLetter, kind: kind, reason: reason}
}

// Requeue replaces this delivery with a copy delayed by d. attrs are set on
// the copy on top of the message's own attributes.
func Requeue(d time.Duration, attrs map[string]string) Outcome {
	return Outcome{action: ActionRequeue, delay: d, attrs: attrs}
}

func (o Outcome) Action() Action       { return o.action }
func (o Outcome) Delay() time.Duration { return o.delay }
func (o Outcome) Kind() string         { return o.kind }
func (o Outcome) Reason() string       { return o.reason }

// Attributes returns the attributes a Requeue sets on the copy.
func (o Outcome) Attributes() map[string]string { return o.attrs }

func (o Outcome) String() string {
	switch o.action {
	case ActionRetry, ActionDefer, ActionRequeue:
		return fmt.Sprintf("%s(%s)", o.action, o.delay)
	case ActionDeadLetter:
		return fmt.Sprintf("%s(%s: %s)", o.action, o.kind, o.reason)
	default:
		return o.action.String()
	}
}
