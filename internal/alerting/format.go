package alerting

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultMaxTraces caps the traces rendered into one alert body.
	DefaultMaxTraces = 5
	maxLineLength    = 500
	maxLinesPerTrace = 10
)

// BuildSubject renders a one-line summary of traces. Traces without a known
// origin get a generic subject.
func BuildSubject(service string, traces []Trace) string {
	if len(traces) == 0 {
		return fmt.Sprintf("[%s] no error traces", service)
	}
	first := traces[0]
	head := fmt.Sprintf("%s in %s", outcomeLabel(first), describeOrigin(first.Origin))
	if len(traces) == 1 {
		return fmt.Sprintf("[%s] %s", service, head)
	}
	return fmt.Sprintf("[%s] %d error traces, first: %s", service, len(traces), head)
}

// BuildBody renders up to maxTraces traces. Traces past the cap are counted,
// not rendered. suppressed is the number of alerts held back by the cooldown
// since the previous one.
func BuildBody(traces []Trace, maxTraces, suppressed int) string {
	if maxTraces <= 0 {
		maxTraces = DefaultMaxTraces
	}

	var b strings.Builder
	shown := min(len(traces), maxTraces)
	for i := 0; i < shown; i++ {
		if i > 0 {
			b.WriteString("\n")
		}
		writeTrace(&b, i+1, traces[i])
	}
	if extra := len(traces) - shown; extra > 0 {
		fmt.Fprintf(&b, "\n... and %d more error trace(s) not shown\n", extra)
	}
	if suppressed > 0 {
		fmt.Fprintf(&b, "\n%d similar alert(s) suppressed since the last notification\n", suppressed)
	}
	return b.String()
}

func writeTrace(b *strings.Builder, n int, t Trace) {
	fmt.Fprintf(b, "#%d outcome=%s", n, outcomeLabel(t))
	if t.ScriptName != "" {
		fmt.Fprintf(b, " script=%s", t.ScriptName)
	}
	if !t.EventTimestamp.IsZero() {
		fmt.Fprintf(b, " at=%s", t.EventTimestamp.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")
	fmt.Fprintf(b, "  origin: %s\n", describeOrigin(t.Origin))

	lines := 0
	for _, e := range t.Exceptions {
		if lines == maxLinesPerTrace {
			break
		}
		fmt.Fprintf(b, "  exception: %s: %s\n", orDefault(e.Name, "Error"), clip(e.Message))
		lines++
	}
	for _, l := range t.Logs {
		if lines == maxLinesPerTrace {
			break
		}
		if !isErrorLevel(l.Level) && l.Level != "warn" {
			continue
		}
		fmt.Fprintf(b, "  log[%s]: %s\n", l.Level, clip(l.Message))
		lines++
	}
	if total := len(t.Exceptions) + countNotable(t.Logs); total > lines {
		fmt.Fprintf(b, "  (%d more line(s) truncated)\n", total-lines)
	}
}

func describeOrigin(o Origin) string {
	switch o := o.(type) {
	case FetchOrigin:
		return fmt.Sprintf("%s %s", orDefault(o.Method, "GET"), o.URL)
	case QueueOrigin:
		return fmt.Sprintf("queue %s (batch of %d)", o.Queue, o.BatchSize)
	case ScheduledOrigin:
		return fmt.Sprintf("schedule %q", o.Cron)
	default:
		return "unknown origin"
	}
}

func outcomeLabel(t Trace) string {
	return orDefault(t.Outcome, "unknown")
}

func countNotable(logs []LogEntry) int {
	n := 0
	for _, l := range logs {
		if isErrorLevel(l.Level) || l.Level == "warn" {
			n++
		}
	}
	return n
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxLineLength {
		return s
	}
	return string([]rune(s)[:maxLineLength]) + "…"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
