package tasks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type receiver struct {
	mu     sync.Mutex
	codes  []int
	bodies [][]byte
	calls  atomic.Int32
	delay  time.Duration
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	n := int(r.calls.Add(1))
	body, _ := io.ReadAll(req.Body)

	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	code := r.codes[len(r.codes)-1]
	if n <= len(r.codes) {
		code = r.codes[n-1]
	}
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		code = http.StatusUnsupportedMediaType
	}
	w.WriteHeader(code)
}

func newTestDeliverer(t *testing.T) (*Deliverer, *[]time.Duration) {
	t.Helper()

	d := NewDeliverer(testConfig(), noopTracer(), testMetrics())
	var waits []time.Duration
	d.sleep = func(ctx context.Context, wait time.Duration) error {
		waits = append(waits, wait)
		return ctx.Err()
	}
	return d, &waits
}

func completedResult() TaskResult {
	return TaskResult{
		TaskID:      "abc",
		Status:      StatusCompleted,
		Result:      map[string]any{"name": "report"},
		CompletedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDeliverer_Delivered(t *testing.T) {
	rcv := &receiver{codes: []int{http.StatusOK}}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	d, waits := newTestDeliverer(t)
	require.NoError(t, d.Deliver(context.Background(), srv.URL, completedResult()))
	require.Equal(t, int32(1), rcv.calls.Load())
	require.Empty(t, *waits)

	var got TaskResult
	require.NoError(t, json.Unmarshal(rcv.bodies[0], &got))
	require.Equal(t, completedResult(), got)
	require.Equal(t, 1.0, testutil.ToFloat64(d.metrics.CallbackOutcomes.WithLabelValues("delivered")))
}

func TestDeliverer_RetriesServerErrors(t *testing.T) {
	rcv := &receiver{codes: []int{http.StatusServiceUnavailable}}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	d, waits := newTestDeliverer(t)
	err := d.Deliver(context.Background(), srv.URL, completedResult())
	require.ErrorIs(t, err, ErrDeliveryExhausted)
	require.Equal(t, int32(3), rcv.calls.Load())
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *waits)
	require.Equal(t, 3.0, testutil.ToFloat64(d.metrics.CallbackAttempts.WithLabelValues("transient")))
}

func TestDeliverer_RecoversAfterTransientFailure(t *testing.T) {
	rcv := &receiver{codes: []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusAccepted}}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	d, waits := newTestDeliverer(t)
	require.NoError(t, d.Deliver(context.Background(), srv.URL, completedResult()))
	require.Equal(t, int32(3), rcv.calls.Load())
	require.Len(t, *waits, 2)
}

func TestDeliverer_ClientErrorIsPermanent(t *testing.T) {
	rcv := &receiver{codes: []int{http.StatusBadRequest}}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	d, waits := newTestDeliverer(t)
	err := d.Deliver(context.Background(), srv.URL, completedResult())
	require.ErrorIs(t, err, ErrPermanentDelivery)
	require.Equal(t, int32(1), rcv.calls.Load())
	require.Empty(t, *waits)
}

func TestDeliverer_TimeoutIsTransient(t *testing.T) {
	rcv := &receiver{codes: []int{http.StatusOK}, delay: 200 * time.Millisecond}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	d, _ := newTestDeliverer(t)
	d.timeout = 20 * time.Millisecond
	d.maxAttempts = 2

	err := d.Deliver(context.Background(), srv.URL, completedResult())
	require.ErrorIs(t, err, ErrDeliveryExhausted)
	require.Equal(t, int32(2), rcv.calls.Load())
}

func TestDeliverer_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d, waits := newTestDeliverer(t)
	err := d.Deliver(context.Background(), url, completedResult())
	require.ErrorIs(t, err, ErrDeliveryExhausted)
	require.Len(t, *waits, 2)
}

func TestDeliverer_StopsWhenCancelled(t *testing.T) {
	rcv := &receiver{codes: []int{http.StatusInternalServerError}}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d, _ := newTestDeliverer(t)
	d.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	err := d.Deliver(ctx, srv.URL, completedResult())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), rcv.calls.Load())
}

func TestDeliverer_Budget(t *testing.T) {
	d, _ := newTestDeliverer(t)
	require.Equal(t, 3*time.Second+30*time.Millisecond+time.Minute, d.Budget())
}

func TestHandleCallbackTask(t *testing.T) {
	rcv := &receiver{codes: []int{http.StatusInternalServerError}}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	d, _ := newTestDeliverer(t)

	payload, err := json.Marshal(CallbackRequest{CallbackURL: srv.URL, Result: completedResult()})
	require.NoError(t, err)
	require.NoError(t, d.HandleCallbackTask(context.Background(), asynq.NewTask("task:callback", payload)))
	require.Equal(t, int32(3), rcv.calls.Load())

	err = d.HandleCallbackTask(context.Background(), asynq.NewTask("task:callback", []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestClassify(t *testing.T) {
	require.Equal(t, outcomeDelivered, classify(http.StatusOK))
	require.Equal(t, outcomeDelivered, classify(http.StatusFound))
	require.Equal(t, outcomePermanent, classify(http.StatusNotFound))
	require.Equal(t, outcomePermanent, classify(http.StatusUnprocessableEntity))
	require.Equal(t, outcomeTransient, classify(http.StatusTooManyRequests))
	require.Equal(t, outcomeTransient, classify(http.StatusGatewayTimeout))
}
