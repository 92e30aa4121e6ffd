package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	alerts []Alert
	// failures are returned by successive calls before any succeed
	failures []error
	panicOn  int
	calls    int
}

func (r *recordingNotifier) Notify(ctx context.Context, a Alert) error {
	r.calls++
	if r.panicOn == r.calls {
		panic("notifier exploded")
	}
	if len(r.failures) > 0 {
		err := r.failures[0]
		r.failures = r.failures[1:]
		if err != nil {
			return err
		}
	}
	r.alerts = append(r.alerts, a)
	return nil
}

type failingCooldownStore struct{}

func (failingCooldownStore) Touch(context.Context, string, time.Time, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func (failingCooldownStore) Drain(context.Context, string) (int, error) {
	return 0, errors.New("redis down")
}

func (failingCooldownStore) Release(context.Context, string, time.Time, int) error {
	return errors.New("redis down")
}

func newTestProcessor(n Notifier, store CooldownStore) (*Processor, *time.Time) {
	p := NewProcessor(ProcessorConfig{Service: "beer-pipeline", MaxTraces: 2}, NewCooldown(store, 5*time.Minute), n, nil, nil)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	p.nowFunc = func() time.Time { return now }
	return p, &now
}

var (
	typeErr = Trace{Outcome: "exception", Exceptions: []Exception{{Name: "TypeError", Message: "x is undefined"}},
		Origin: QueueOrigin{Queue: "beer-enrichment", BatchSize: 1}}
	timeoutErr = Trace{Outcome: "exception", Exceptions: []Exception{{Name: "TimeoutError"}}}
	okTrace    = Trace{Outcome: "ok"}
)

func TestProcess_GroupsAndCoolsDown(t *testing.T) {
	n := &recordingNotifier{}
	p, now := newTestProcessor(n, NewMemoryCooldownStore())
	ctx := context.Background()

	p.Process(ctx, []Trace{typeErr, okTrace, timeoutErr, typeErr, typeErr})
	require.Len(t, n.alerts, 2)
	assert.Equal(t, "[beer-pipeline] 3 error traces, first: exception in queue beer-enrichment (batch of 1)", n.alerts[0].Subject)
	assert.Contains(t, n.alerts[0].Body, "... and 1 more error trace(s) not shown")
	assert.Equal(t, "[beer-pipeline] exception in unknown origin", n.alerts[1].Subject)

	// same failure one second later is suppressed
	*now = now.Add(time.Second)
	p.Process(ctx, []Trace{typeErr})
	assert.Len(t, n.alerts, 2)

	// after the window it goes out with the suppressed count
	*now = now.Add(5 * time.Minute)
	p.Process(ctx, []Trace{typeErr})
	require.Len(t, n.alerts, 3)
	assert.Contains(t, n.alerts[2].Body, "1 similar alert(s) suppressed")
}

func TestProcess_NoErrorsNoAlert(t *testing.T) {
	n := &recordingNotifier{}
	p, _ := newTestProcessor(n, NewMemoryCooldownStore())

	p.Process(context.Background(), []Trace{okTrace, {Outcome: "canceled"}})
	assert.Zero(t, n.calls)
}

func TestProcess_DeliveryFailureSendsFallback(t *testing.T) {
	n := &recordingNotifier{failures: []error{errors.New("webhook 500")}}
	p, _ := newTestProcessor(n, NewMemoryCooldownStore())

	p.Process(context.Background(), []Trace{typeErr, typeErr, okTrace})
	require.Len(t, n.alerts, 1)
	assert.True(t, n.alerts[0].Fallback)
	assert.Equal(t, "[beer-pipeline] 2 error trace(s)", n.alerts[0].Subject)
}

func TestProcess_FailedDeliveryDoesNotStartCooldown(t *testing.T) {
	n := &recordingNotifier{}
	p, now := newTestProcessor(n, NewMemoryCooldownStore())
	ctx := context.Background()

	p.Process(ctx, []Trace{typeErr})
	*now = now.Add(time.Second)
	p.Process(ctx, []Trace{typeErr})
	require.Len(t, n.alerts, 1)

	// window elapsed but the webhook is down: only the fallback goes out
	*now = now.Add(6 * time.Minute)
	n.failures = []error{errors.New("webhook 503")}
	p.Process(ctx, []Trace{typeErr})
	require.Len(t, n.alerts, 2)
	assert.True(t, n.alerts[1].Fallback)

	*now = now.Add(time.Second)
	p.Process(ctx, []Trace{typeErr})
	require.Len(t, n.alerts, 3)
	assert.False(t, n.alerts[2].Fallback)
	assert.Equal(t, "[beer-pipeline] exception in queue beer-enrichment (batch of 1)", n.alerts[2].Subject)
	assert.Contains(t, n.alerts[2].Body, "1 similar alert(s) suppressed")
}

func TestProcess_OneGroupFailingDoesNotBlockOthers(t *testing.T) {
	n := &recordingNotifier{failures: []error{errors.New("webhook 500")}}
	p, _ := newTestProcessor(n, NewMemoryCooldownStore())

	p.Process(context.Background(), []Trace{typeErr, typeErr, timeoutErr})
	require.Len(t, n.alerts, 2)
	assert.Equal(t, "[beer-pipeline] exception in unknown origin", n.alerts[0].Subject)
	assert.False(t, n.alerts[0].Fallback)
	assert.True(t, n.alerts[1].Fallback)
	assert.Equal(t, "[beer-pipeline] 2 error trace(s)", n.alerts[1].Subject)
	assert.Equal(t, 3, n.calls)
}

func TestProcess_PanicSendsFallback(t *testing.T) {
	n := &recordingNotifier{panicOn: 1}
	p, _ := newTestProcessor(n, NewMemoryCooldownStore())

	assert.NotPanics(t, func() { p.Process(context.Background(), []Trace{timeoutErr}) })
	require.Len(t, n.alerts, 1)
	assert.True(t, n.alerts[0].Fallback)
}

func TestProcess_FallbackFailureIsDropped(t *testing.T) {
	n := &recordingNotifier{failures: []error{errors.New("down"), errors.New("still down")}}
	p, _ := newTestProcessor(n, NewMemoryCooldownStore())

	assert.NotPanics(t, func() { p.Process(context.Background(), []Trace{typeErr}) })
	assert.Empty(t, n.alerts)
	assert.Equal(t, 2, n.calls)
}

func TestProcess_CooldownStoreErrorStillAlerts(t *testing.T) {
	n := &recordingNotifier{}
	p, _ := newTestProcessor(n, failingCooldownStore{})

	p.Process(context.Background(), []Trace{typeErr})
	require.Len(t, n.alerts, 1)
	assert.False(t, n.alerts[0].Fallback)
}

func TestWebhookNotifier(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	require.NoError(t, n.Notify(context.Background(), Alert{Service: "svc", Subject: "s", Body: "b"}))
	assert.Equal(t, Alert{Service: "svc", Subject: "s", Body: "b"}, got)
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), Alert{Subject: "s"})
	assert.ErrorContains(t, err, "status 502")
}
