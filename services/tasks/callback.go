package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"task-execution-service/pkg/config"
	"task-execution-service/pkg/metrics"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type outcome string

const (
	outcomeDelivered outcome = "delivered"
	outcomePermanent outcome = "permanent"
	outcomeTransient outcome = "transient"
)

// Deliverer posts terminal task results to callback URLs. Delivery is
// at-least-once: a retried POST may reach the receiver twice, so receivers
// must be idempotent on task_id.
type Deliverer struct {
	client      *http.Client
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	tracer      trace.Tracer
	metrics     *metrics.Metrics
}

func NewDeliverer(cfg *config.Config, tp trace.TracerProvider, m *metrics.Metrics) *Deliverer {
	return &Deliverer{
		client:      &http.Client{},
		timeout:     cfg.Callback.Timeout,
		maxAttempts: cfg.Callback.MaxAttempts,
		baseDelay:   cfg.Callback.BaseDelay,
		sleep:       sleepContext,
		tracer:      tp.Tracer(tracerName),
		metrics:     m,
	}
}

// Budget is the longest a full delivery can take: every attempt timing out
// plus every backoff delay.
func (d *Deliverer) Budget() time.Duration {
	total := time.Duration(d.maxAttempts) * d.timeout
	for attempt := 0; attempt < d.maxAttempts-1; attempt++ {
		total += d.delay(attempt)
	}
	return total + time.Minute
}

func (d *Deliverer) delay(attempt int) time.Duration {
	return d.baseDelay * time.Duration(1<<attempt)
}

// Deliver POSTs result to callbackURL. Timeouts, connection errors, 5xx and
// 429 are retried with delay base*2^attempt up to maxAttempts in total; any
// other 4xx ends delivery after one attempt with ErrPermanentDelivery.
func (d *Deliverer) Deliver(ctx context.Context, callbackURL string, result TaskResult) error {
	ctx, span := d.tracer.Start(ctx, "tasks.callback.deliver", trace.WithAttributes(
		attribute.String("task.id", result.TaskID),
		attribute.String("task.status", string(result.Status)),
	))
	defer span.End()

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode task result: %w", err)
	}

	log := zap.L().With(zap.String("task_id", result.TaskID), zap.String("callback_url", callbackURL))

	var lastErr error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		out, err := d.post(ctx, callbackURL, body)
		d.metrics.CallbackAttempts.WithLabelValues(string(out)).Inc()
		span.SetAttributes(attribute.Int("callback.attempts", attempt+1))

		switch out {
		case outcomeDelivered:
			log.Info("callback delivered", zap.Int("attempt", attempt+1))
			d.metrics.CallbackOutcomes.WithLabelValues("delivered").Inc()
			return nil
		case outcomePermanent:
			log.Warn("callback rejected, not retrying", zap.Int("attempt", attempt+1), zap.Error(err))
			d.metrics.CallbackOutcomes.WithLabelValues("rejected").Inc()
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: %v", ErrPermanentDelivery, err)
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == d.maxAttempts-1 {
			break
		}

		wait := d.delay(attempt)
		log.Warn("callback attempt failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", d.maxAttempts),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
		if err := d.sleep(ctx, wait); err != nil {
			return err
		}
	}

	d.metrics.CallbackOutcomes.WithLabelValues("exhausted").Inc()
	span.SetStatus(codes.Error, "retries exhausted")
	log.Error("callback abandoned", zap.Int("attempts", d.maxAttempts), zap.Error(lastErr))
	return fmt.Errorf("%w after %d attempts: %v", ErrDeliveryExhausted, d.maxAttempts, lastErr)
}

func (d *Deliverer) post(ctx context.Context, callbackURL string, body []byte) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return outcomePermanent, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return outcomeTransient, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return classify(resp.StatusCode), statusError(resp.StatusCode)
}

func classify(code int) outcome {
	switch {
	case code < http.StatusBadRequest:
		return outcomeDelivered
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return outcomeTransient
	default:
		return outcomePermanent
	}
}

func statusError(code int) error {
	if code < http.StatusBadRequest {
		return nil
	}
	return fmt.Errorf("callback endpoint answered %d %s", code, http.StatusText(code))
}

// HandleCallbackTask is the asynq handler for task:callback. Delivery failures
// are logged and dropped; the task record is already terminal and is not touched.
func (d *Deliverer) HandleCallbackTask(ctx context.Context, t *asynq.Task) error {
	var req CallbackRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		zap.L().Error("invalid callback payload", zap.Error(err))
		return fmt.Errorf("decode callback payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := d.Deliver(ctx, req.CallbackURL, req.Result); err != nil && !errors.Is(err, ErrDeliveryExhausted) && !errors.Is(err, ErrPermanentDelivery) {
		zap.L().Error("callback delivery interrupted", zap.String("task_id", req.Result.TaskID), zap.Error(err))
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
