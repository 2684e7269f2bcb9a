package delivery

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickgao/price-replay/internal/model"
	"github.com/rickgao/price-replay/internal/version"
)

// ErrRetriesExhausted marks a transient failure that outlived every attempt.
var ErrRetriesExhausted = errors.New("retries exhausted")

// EndpointError represents a non-2xx response from the ingestion endpoint.
type EndpointError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *EndpointError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if body == "" {
		return fmt.Sprintf("endpoint error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("endpoint error %d: %s: %s", e.StatusCode, e.Message, body)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *EndpointError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// PermanentError wraps a failure that no retry can fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent delivery failure: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// StatusOf maps a Deliver result to the event's terminal status.
func StatusOf(err error) model.DeliveryStatus {
	if err == nil {
		return model.StatusSent
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return model.StatusDropped
	}
	return model.StatusFailed
}

// Deliver encodes ev and posts it, retrying transient failures. It records the
// number of attempts on ev; the caller sets the terminal status via StatusOf.
func (c *Client) Deliver(ctx context.Context, ev *model.EmissionEvent) error {
	ctx, span := c.tracer.Start(ctx, "delivery.Deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("replay.seq", ev.Seq),
			attribute.Int("replay.pass", ev.Pass),
			attribute.Int64("replay.row", ev.Record.Offset),
		),
	)
	defer span.End()

	err := c.deliver(ctx, ev)

	span.SetAttributes(
		attribute.Int("replay.attempts", ev.Attempts),
		attribute.String("replay.status", string(StatusOf(err))),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) deliver(ctx context.Context, ev *model.EmissionEvent) error {
	line, err := c.Encode(ev)
	if err != nil {
		return &PermanentError{Err: err}
	}

	if c.dryRun {
		ev.Attempts = 1
		c.logger.Info("dry run point", "seq", ev.Seq, "line", string(line))
		return nil
	}

	body, err := c.buildBody(line)
	if err != nil {
		return &PermanentError{Err: err}
	}

	return c.doWithRetry(ctx, ev, body)
}

func (c *Client) buildBody(line []byte) ([]byte, error) {
	line = append(line, '\n')
	if !c.gzip {
		return line, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(line); err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}
	return buf.Bytes(), nil
}

// doRequest performs a single POST of body.
func (c *Client) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &EndpointError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       respBody,
		}
	}

	return nil
}

// doWithRetry performs the request with exponential backoff retry. maxAttempts
// counts the first try.
func (c *Client) doWithRetry(ctx context.Context, ev *model.EmissionEvent, body []byte) error {
	var lastErr error
	backoff := c.backoffBase

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := jitter(backoff)
			c.logger.Info("retrying delivery",
				"seq", ev.Seq,
				"attempt", attempt,
				"backoff", wait,
				"err", lastErr,
			)

			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ctx.Err(), lastErr)
			case <-time.After(wait):
			}

			backoff *= 2
		}

		ev.Attempts = attempt
		err := c.doRequest(ctx, body)
		if err == nil {
			return nil
		}

		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return err
		}

		var endpointErr *EndpointError
		if errors.As(err, &endpointErr) && !endpointErr.IsRetryable() {
			return &PermanentError{Err: err}
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ctx.Err(), lastErr)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.maxAttempts, lastErr)
}

// jitter scales d by a random factor in [0.5, 1.5).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int64N(int64(d)))
}
