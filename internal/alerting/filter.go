package alerting

import "strings"

// Outcomes that are not failures on their own.
var nonErrorOutcomes = map[string]bool{
	"ok":       true,
	"canceled": true,
}

// IsErrorTrace reports whether t describes a failure: an outcome outside the
// non-error set, any exception, or any error-level log line.
func IsErrorTrace(t Trace) bool {
	if !nonErrorOutcomes[strings.ToLower(t.Outcome)] {
		return true
	}
	return len(t.Exceptions) > 0 || hasErrorLog(t)
}

// ErrorTraces keeps the error traces of ts, in order.
func ErrorTraces(ts []Trace) []Trace {
	var out []Trace
	for _, t := range ts {
		if IsErrorTrace(t) {
			out = append(out, t)
		}
	}
	return out
}

// Fingerprint is the cooldown key of t: its outcome plus the name of its first
// exception, so unrelated failures do not suppress each other.
func Fingerprint(t Trace) string {
	cause := "none"
	switch {
	case len(t.Exceptions) > 0 && t.Exceptions[0].Name != "":
		cause = t.Exceptions[0].Name
	case len(t.Exceptions) > 0:
		cause = "exception"
	case hasErrorLog(t):
		cause = "error_log"
	}
	outcome := strings.ToLower(t.Outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	return outcome + ":" + cause
}

func hasErrorLog(t Trace) bool {
	for _, l := range t.Logs {
		if isErrorLevel(l.Level) {
			return true
		}
	}
	return false
}

func isErrorLevel(level string) bool {
	switch strings.ToLower(level) {
	case "error", "fatal":
		return true
	}
	return false
}
