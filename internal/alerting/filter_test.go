package alerting

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsErrorTrace(t *testing.T) {
	cases := []struct {
		name  string
		trace Trace
		want  bool
	}{
		{"exception outcome", Trace{Outcome: "exception"}, true},
		{"exceeded cpu", Trace{Outcome: "exceededCpu"}, true},
		{"clean ok", Trace{Outcome: "ok", Logs: []LogEntry{{Level: "info", Message: "fine"}}}, false},
		{"canceled", Trace{Outcome: "canceled"}, false},
		{"ok with error log", Trace{Outcome: "ok", Logs: []LogEntry{{Level: "info"}, {Level: "error", Message: "boom"}}}, true},
		{"ok with exception", Trace{Outcome: "ok", Exceptions: []Exception{{Name: "TypeError"}}}, true},
		{"missing outcome", Trace{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsErrorTrace(tc.trace))
		})
	}
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "exception:TypeError", Fingerprint(Trace{Outcome: "exception", Exceptions: []Exception{{Name: "TypeError"}, {Name: "RangeError"}}}))
	assert.Equal(t, "ok:error_log", Fingerprint(Trace{Outcome: "ok", Logs: []LogEntry{{Level: "error"}}}))
	assert.Equal(t, "exceededcpu:none", Fingerprint(Trace{Outcome: "exceededCpu"}))
	assert.NotEqual(t,
		Fingerprint(Trace{Outcome: "exception", Exceptions: []Exception{{Name: "TypeError"}}}),
		Fingerprint(Trace{Outcome: "exception", Exceptions: []Exception{{Name: "SyntaxError"}}}))
}

func TestTraceJSON_DecodesOrigins(t *testing.T) {
	raw := `[
	  {"outcome":"exception","event":{"kind":"fetch","method":"POST","url":"https://api/enqueue"}},
	  {"outcome":"ok","event":{"kind":"queue","queue":"beer-cleanup","batch_size":25}},
	  {"outcome":"ok","event":{"kind":"scheduled","cron":"*/30 * * * *"}},
	  {"outcome":"ok","event":{"kind":"email"}},
	  {"outcome":"ok"}
	]`
	var traces []Trace
	require.NoError(t, json.Unmarshal([]byte(raw), &traces))
	require.Len(t, traces, 5)

	assert.Equal(t, FetchOrigin{Method: "POST", URL: "https://api/enqueue"}, traces[0].Origin)
	assert.Equal(t, QueueOrigin{Queue: "beer-cleanup", BatchSize: 25}, traces[1].Origin)
	assert.Equal(t, ScheduledOrigin{Cron: "*/30 * * * *"}, traces[2].Origin)
	assert.Nil(t, traces[3].Origin)
	assert.Nil(t, traces[4].Origin)

	out, err := json.Marshal(traces[1])
	require.NoError(t, err)
	assert.Contains(t, string(out), `"kind":"queue"`)
	var back Trace
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, traces[1].Origin, back.Origin)
}

func TestBuildSubject(t *testing.T) {
	fetch := Trace{Outcome: "exception", Origin: FetchOrigin{Method: "GET", URL: "https://api/health"}}
	queue := Trace{Outcome: "exception", Origin: QueueOrigin{Queue: "beer-enrichment", BatchSize: 1}}
	sched := Trace{Outcome: "exceededCpu", Origin: ScheduledOrigin{Cron: "0 * * * *"}}

	assert.Equal(t, "[beer-pipeline] exception in GET https://api/health", BuildSubject("beer-pipeline", []Trace{fetch}))
	assert.Equal(t, "[beer-pipeline] exception in queue beer-enrichment (batch of 1)", BuildSubject("beer-pipeline", []Trace{queue}))
	assert.Equal(t, `[beer-pipeline] exceededCpu in schedule "0 * * * *"`, BuildSubject("beer-pipeline", []Trace{sched}))
	assert.Equal(t, "[beer-pipeline] 2 error traces, first: exception in queue beer-enrichment (batch of 1)",
		BuildSubject("beer-pipeline", []Trace{queue, fetch}))
	assert.Equal(t, "[beer-pipeline] unknown in unknown origin", BuildSubject("beer-pipeline", []Trace{{}}))
}

func TestBuildBody_CapsAndSummarises(t *testing.T) {
	var traces []Trace
	for i := 0; i < 8; i++ {
		traces = append(traces, Trace{
			Outcome:        "exception",
			ScriptName:     "enrichment-worker",
			EventTimestamp: time.Date(2025, 5, 1, 12, 0, i, 0, time.UTC),
			Exceptions:     []Exception{{Name: "TimeoutError", Message: "lookup timed out"}},
			Logs:           []LogEntry{{Level: "info", Message: "skip me"}, {Level: "error", Message: "abv lookup failed"}},
		})
	}

	body := BuildBody(traces, 5, 3)
	assert.Equal(t, 5, strings.Count(body, "outcome=exception"))
	assert.Contains(t, body, "#5 outcome=exception script=enrichment-worker at=2025-05-01T12:00:04Z")
	assert.NotContains(t, body, "#6")
	assert.Contains(t, body, "... and 3 more error trace(s) not shown")
	assert.Contains(t, body, "3 similar alert(s) suppressed")
	assert.Contains(t, body, "exception: TimeoutError: lookup timed out")
	assert.Contains(t, body, "log[error]: abv lookup failed")
	assert.NotContains(t, body, "skip me")
	assert.Equal(t, body, BuildBody(traces, 5, 3), "rendering is deterministic")
}

func TestBuildBody_ClipsLongLines(t *testing.T) {
	long := strings.Repeat("x", maxLineLength*2)
	var logs []LogEntry
	for i := 0; i < maxLinesPerTrace+4; i++ {
		logs = append(logs, LogEntry{Level: "error", Message: long})
	}
	body := BuildBody([]Trace{{Outcome: "ok", Logs: logs}}, 0, 0)

	assert.NotContains(t, body, strings.Repeat("x", maxLineLength+1))
	assert.Contains(t, body, "(4 more line(s) truncated)")
	assert.Contains(t, body, "origin: unknown origin")
}
