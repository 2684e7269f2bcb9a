package delivery

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rickgao/price-replay/internal/model"
)

var emitAt = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func testEvent(seq int64) *model.EmissionEvent {
	rec := model.HistoricalRecord{
		Offset:    seq,
		Timestamp: time.Unix(1325412060, 0).UTC(),
		Price:     decimal.RequireFromString("4.58"),
		Open:      dec("4.5"),
		High:      dec("4.61"),
		Low:       dec("4.5"),
		Close:     dec("4.58"),
		Volume:    dec("12.5"),
	}
	return model.NewEmissionEvent(rec, emitAt, 1, seq)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("http://localhost:8186/write", "token")

		if c.endpointURL != "http://localhost:8186/write" {
			t.Errorf("endpointURL = %q", c.endpointURL)
		}
		if c.httpClient.Timeout != 10*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 10*time.Second)
		}
		if c.maxAttempts != 3 {
			t.Errorf("maxAttempts = %d, want 3", c.maxAttempts)
		}
		if c.backoffBase != time.Second {
			t.Errorf("backoffBase = %v, want 1s", c.backoffBase)
		}
		if c.measurement != "bitcoin" {
			t.Errorf("measurement = %q, want bitcoin", c.measurement)
		}
		if c.logger == nil || c.tracer == nil {
			t.Error("logger and tracer should not be nil")
		}
	})

	t.Run("with multiple options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		custom := &http.Client{}
		c := NewClient("http://localhost:8186/write", "",
			WithHTTPClient(custom),
			WithTimeout(2*time.Second),
			WithRetries(5, 250*time.Millisecond),
			WithLogger(logger),
			WithGzip(true),
			WithPoint("btc", map[string]string{"source": "csv", "market": "default"}),
		)
		if c.httpClient != custom || custom.Timeout != 2*time.Second {
			t.Error("custom HTTP client or timeout not set")
		}
		if c.maxAttempts != 5 || c.backoffBase != 250*time.Millisecond {
			t.Errorf("retries = %d, %v", c.maxAttempts, c.backoffBase)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
		if !c.gzip {
			t.Error("gzip not enabled")
		}
		if strings.Join(c.tagKeys, ",") != "market,source" {
			t.Errorf("tagKeys = %v, want sorted", c.tagKeys)
		}
	})
}

func TestEncode(t *testing.T) {
	c := NewClient("http://localhost", "", WithPoint("bitcoin", map[string]string{"source": "historical", "market": "default"}))

	ev := testEvent(1)
	ev.Record.Extra = map[string]decimal.Decimal{"weighted_price": decimal.RequireFromString("4.57")}
	ev.Derived = model.Fields{"sma": 4.55}

	line, err := c.Encode(ev)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := "bitcoin,market=default,source=historical price=4.58,open=4.5,high=4.61,low=4.5,close=4.58,volume=12.5,weighted_price=4.57,sma=4.55 1792314000000000000"
	if string(line) != want {
		t.Errorf("Encode() =\n%s\nwant\n%s", line, want)
	}
}

func TestEncode_OmitsMissingFields(t *testing.T) {
	c := NewClient("http://localhost", "")

	ev := model.NewEmissionEvent(model.HistoricalRecord{
		Offset: 1,
		Price:  decimal.RequireFromString("100"),
	}, emitAt, 1, 1)

	line, err := c.Encode(ev)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(line) != "bitcoin price=100 1792314000000000000" {
		t.Errorf("Encode() = %q", line)
	}
}

func TestDeliver_Success(t *testing.T) {
	var gotAuth, gotType, gotUA, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotUA = r.Header.Get("User-Agent")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL+"/write", "secret", WithLogger(quietLogger()))
	ev := testEvent(1)

	err := c.Deliver(context.Background(), ev)
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if StatusOf(err) != model.StatusSent {
		t.Errorf("StatusOf = %q, want sent", StatusOf(err))
	}
	if ev.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", ev.Attempts)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret")
	}
	if !strings.HasPrefix(gotType, "text/plain") {
		t.Errorf("Content-Type = %q", gotType)
	}
	if !strings.HasPrefix(gotUA, "price-replay/") {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if !strings.HasPrefix(gotBody, "bitcoin price=4.58,") || !strings.HasSuffix(gotBody, " 1792314000000000000\n") {
		t.Errorf("body = %q", gotBody)
	}
}

func TestDeliver_NoTokenNoHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Authorization"]; ok {
			t.Error("Authorization header sent without token")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithLogger(quietLogger()))
	if err := c.Deliver(context.Background(), testEvent(1)); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
}

func TestDeliver_Gzip(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "gzip" {
			t.Errorf("Content-Encoding = %q, want gzip", r.Header.Get("Content-Encoding"))
		}
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("gzip.NewReader: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(zr)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithGzip(true), WithLogger(quietLogger()))
	if err := c.Deliver(context.Background(), testEvent(1)); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if !strings.HasPrefix(gotBody, "bitcoin price=4.58") {
		t.Errorf("decompressed body = %q", gotBody)
	}
}

func TestDeliver_RetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithRetries(3, time.Millisecond), WithLogger(quietLogger()))
	ev := testEvent(1)

	if err := c.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if ev.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", ev.Attempts)
	}
}

func TestDeliver_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithRetries(2, time.Millisecond), WithLogger(quietLogger()))
	ev := testEvent(2)

	err := c.Deliver(context.Background(), ev)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Deliver() error = %v, want ErrRetriesExhausted", err)
	}
	var endpointErr *EndpointError
	if !errors.As(err, &endpointErr) || endpointErr.StatusCode != 500 {
		t.Errorf("Deliver() error should wrap the last EndpointError, got %v", err)
	}
	if StatusOf(err) != model.StatusFailed {
		t.Errorf("StatusOf = %q, want failed", StatusOf(err))
	}
	if calls.Load() != 2 || ev.Attempts != 2 {
		t.Errorf("calls, Attempts = %d, %d, want 2, 2", calls.Load(), ev.Attempts)
	}
}

func TestDeliver_TimeoutRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL, "",
		WithTimeout(50*time.Millisecond),
		WithRetries(2, time.Millisecond),
		WithLogger(quietLogger()),
	)
	ev := testEvent(1)

	start := time.Now()
	err := c.Deliver(context.Background(), ev)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Deliver() error = %v, want ErrRetriesExhausted", err)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("Deliver() error should wrap a timeout, got %v", err)
	}
	if StatusOf(err) != model.StatusFailed {
		t.Errorf("StatusOf = %q, want failed", StatusOf(err))
	}
	if calls.Load() != 2 || ev.Attempts != 2 {
		t.Errorf("calls, Attempts = %d, %d, want 2, 2", calls.Load(), ev.Attempts)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Deliver() took %v, want bounded by the request timeout", elapsed)
	}
}

func TestDeliver_PermanentNotRetried(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusRequestEntityTooLarge, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.code)
				w.Write([]byte(`{"error":"unable to parse"}`))
			}))
			defer server.Close()

			c := NewClient(server.URL, "", WithRetries(3, time.Millisecond), WithLogger(quietLogger()))
			err := c.Deliver(context.Background(), testEvent(1))

			wantStatus := model.StatusDropped
			wantCalls := int32(1)
			if tt.retryable {
				wantStatus = model.StatusFailed
				wantCalls = 3
			}
			if got := StatusOf(err); got != wantStatus {
				t.Errorf("StatusOf = %q, want %q (err %v)", got, wantStatus, err)
			}
			if calls.Load() != wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), wantCalls)
			}
		})
	}
}

func TestDeliver_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(url, "", WithRetries(2, time.Millisecond), WithLogger(quietLogger()))
	ev := testEvent(1)

	err := c.Deliver(context.Background(), ev)
	if StatusOf(err) != model.StatusFailed {
		t.Errorf("StatusOf = %q, want failed (err %v)", StatusOf(err), err)
	}
	if ev.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", ev.Attempts)
	}
}

func TestDeliver_UnencodableDropped(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithLogger(quietLogger()))
	ev := testEvent(1)
	ev.Derived = model.Fields{"volatility": math.Inf(1)}

	err := c.Deliver(context.Background(), ev)
	if StatusOf(err) != model.StatusDropped {
		t.Errorf("StatusOf = %q, want dropped", StatusOf(err))
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

func TestDeliver_DryRun(t *testing.T) {
	c := NewClient("http://127.0.0.1:1/write", "", WithDryRun(true), WithLogger(quietLogger()))
	ev := testEvent(1)

	if err := c.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if ev.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", ev.Attempts)
	}
}

func TestDeliver_CanceledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithRetries(5, time.Hour), WithLogger(quietLogger()))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Deliver(ctx, testEvent(1))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Deliver() error = %v, want context.DeadlineExceeded", err)
	}
	if StatusOf(err) != model.StatusFailed {
		t.Errorf("StatusOf = %q, want failed", StatusOf(err))
	}
}

func TestDeliver_Span(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	c := NewClient(server.URL, "", WithTracer(tp.Tracer("test")), WithLogger(quietLogger()))
	_ = c.Deliver(context.Background(), testEvent(7))

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "delivery.Deliver" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["replay.seq"] != "7" || attrs["replay.status"] != "dropped" {
		t.Errorf("span attributes = %v", attrs)
	}
}

func TestEndpointError(t *testing.T) {
	err := &EndpointError{StatusCode: 400, Message: "Bad Request", Body: []byte("bad line\n")}
	if err.Error() != "endpoint error 400: Bad Request: bad line" {
		t.Errorf("Error() = %q", err.Error())
	}
	err = &EndpointError{StatusCode: 503, Message: "Service Unavailable"}
	if err.Error() != "endpoint error 503: Service Unavailable" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !err.IsRetryable() {
		t.Error("503 should be retryable")
	}
}

func TestJitter(t *testing.T) {
	if jitter(0) != 0 {
		t.Error("jitter(0) should be 0")
	}
	for i := 0; i < 100; i++ {
		got := jitter(time.Second)
		if got < 500*time.Millisecond || got >= 1500*time.Millisecond {
			t.Fatalf("jitter(1s) = %v, want [0.5s, 1.5s)", got)
		}
	}
}
