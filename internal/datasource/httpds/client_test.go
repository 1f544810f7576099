package httpds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fastClient(url string, retries int) *Client {
	return NewClient(Config{
		BaseURL:        url,
		Timeout:        2 * time.Second,
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

// TestNewClient_Defaults verifies that zero values get defaults.
func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	if c.rc.HTTPClient.Timeout != 30*time.Second {
		t.Fatalf("timeout: got %v", c.rc.HTTPClient.Timeout)
	}
	if c.baseURL != DefaultBaseURL {
		t.Fatalf("base url: got %q", c.baseURL)
	}
	if c.userAgent != DefaultUserAgent {
		t.Fatalf("user agent: got %q", c.userAgent)
	}
	if c.rc.RetryMax != 0 || c.rc.RetryWaitMin != 200*time.Millisecond || c.rc.RetryWaitMax != 5*time.Second {
		t.Fatalf("retry defaults: retries=%d min=%v max=%v", c.rc.RetryMax, c.rc.RetryWaitMin, c.rc.RetryWaitMax)
	}
	if c.rc.Logger != nil {
		t.Fatalf("logger: got %T, want nil", c.rc.Logger)
	}
}

// TestGetBody_RetryOn5xxThenSuccess serves two 500s, then the document.
func TestGetBody_RetryOn5xxThenSuccess(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			t.Errorf("user agent: got %q", r.Header.Get("User-Agent"))
		}
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := fastClient(srv.URL, 3).getBody(context.Background(), srv.URL, 1024)
	if err != nil {
		t.Fatalf("getBody: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body: got %q", body)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
}

// TestGetBody_NoRetryOn4xx verifies a 404 is final and typed.
func TestGetBody_NoRetryOn4xx(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL, 3).getBody(context.Background(), srv.URL, 1024)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected 1 request, got %d", got)
	}
}

// TestGetBody_ExhaustsRetries returns the last status once attempts run out.
func TestGetBody_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL, 2).getBody(context.Background(), srv.URL, 1024)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("expected StatusError 429, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
}

// TestGetBody_ContextCanceled stops before the first request.
func TestGetBody_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fastClient("http://127.0.0.1:0", 3).getBody(ctx, "http://127.0.0.1:0/x", 1024)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// TestGetBody_Limit truncates oversized bodies.
func TestGetBody_Limit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	body, err := fastClient(srv.URL, 0).getBody(context.Background(), srv.URL, 4)
	if err != nil {
		t.Fatalf("getBody: %v", err)
	}
	if string(body) != "0123" {
		t.Fatalf("body: got %q", body)
	}
}

func TestCheckRetry(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		code    int
		err     error
		want    bool
		wantErr error
	}{
		{name: "ok", ctx: context.Background(), code: http.StatusOK},
		{name: "not found", ctx: context.Background(), code: http.StatusNotFound},
		{name: "too many requests", ctx: context.Background(), code: http.StatusTooManyRequests, want: true},
		{name: "bad gateway", ctx: context.Background(), code: http.StatusBadGateway, want: true},
		{name: "transport error", ctx: context.Background(), err: errors.New("connection reset"), want: true},
		{name: "canceled", ctx: canceled, code: http.StatusServiceUnavailable, wantErr: context.Canceled},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var resp *http.Response
			if tt.err == nil {
				resp = &http.Response{StatusCode: tt.code}
			}
			got, err := checkRetry(tt.ctx, resp, tt.err)
			if got != tt.want {
				t.Fatalf("retry: got %v, want %v", got, tt.want)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// TestGetBody_RetryTransportError fails the first attempt below HTTP and
// logs the retry through zap.
func TestGetBody_RetryTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var calls int32
	core, logs := observer.New(zap.DebugLevel)
	c := NewClient(Config{
		BaseURL:        srv.URL,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Logger:         zap.New(core),
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, errors.New("connection reset")
			}
			return http.DefaultTransport.RoundTrip(r)
		}),
	})

	body, err := c.getBody(context.Background(), srv.URL, 1024)
	if err != nil {
		t.Fatalf("getBody: %v", err)
	}
	if string(body) != `{}` {
		t.Fatalf("body: got %q", body)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 round trips, got %d", got)
	}
	if logs.FilterMessage("httpds: retrying request").Len() != 1 {
		t.Fatalf("expected one retry log entry, got %v", logs.All())
	}
}
