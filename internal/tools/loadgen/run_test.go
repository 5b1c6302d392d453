package loadgen

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClassifyStatusClass(t *testing.T) {
	cases := map[int]string{
		200: "2xx",
		302: "3xx",
		404: "4xx",
		500: "5xx",
		100: "other",
	}
	for status, want := range cases {
		if got := classifyStatusClass(status); got != want {
			t.Fatalf("classifyStatusClass(%d)=%q want %q", status, got, want)
		}
	}
}

func TestNormalizeProfile(t *testing.T) {
	if got := normalizeProfile(""); got != "mixed" {
		t.Fatalf("normalizeProfile empty=%q want mixed", got)
	}
	if got := normalizeProfile("  AUTH  "); got != "auth" {
		t.Fatalf("normalizeProfile auth=%q want auth", got)
	}
}

func TestRunReportsFirstThrottle(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if c, err := r.Cookie("sid"); err != nil || c.Value != "signed" {
			t.Errorf("expected session cookie, got %v", err)
		}
		if hits.Add(1) > 3 {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := Run(context.Background(), Config{
		BaseURL:       srv.URL,
		Profile:       "api",
		Requests:      5,
		Concurrency:   1,
		SessionCookie: "signed",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.TotalRequests != 5 || res.RateLimited != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.FirstLimitedAt != 4 || res.RetryAfter != "60" {
		t.Fatalf("expected throttling from request 4, got %+v", res)
	}
	if res.StatusClasses["2xx"] != 3 || res.StatusClasses["4xx"] != 2 {
		t.Fatalf("unexpected classes: %v", res.StatusClasses)
	}
}

func TestRunCountsServerErrorsAsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res, err := Run(context.Background(), Config{BaseURL: srv.URL, Profile: "auth", Requests: 2, Concurrency: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Failures != 2 || res.RateLimited != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunRejectsUnknownProfileAndEmptyBudget(t *testing.T) {
	if _, err := Run(context.Background(), Config{Profile: "bogus", Requests: 1}); err == nil {
		t.Fatal("expected unknown profile error")
	}
	if _, err := Run(context.Background(), Config{Profile: "api"}); err == nil {
		t.Fatal("expected empty budget error")
	}
}

func TestRunPacesToRPS(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	start := time.Now()
	res, err := Run(context.Background(), Config{BaseURL: srv.URL, Profile: "api", RPS: 20, Requests: 5, Concurrency: 5})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// One token up front, then one every 50ms.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("expected paced run to take at least 150ms, took %v", elapsed)
	}
	if res.TotalRequests != 5 || hits.Load() != 5 {
		t.Fatalf("expected 5 requests, got %+v (server saw %d)", res, hits.Load())
	}
}

func TestRunStopsPacingOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := Run(ctx, Config{BaseURL: srv.URL, Profile: "api", RPS: 1, Requests: 10, Concurrency: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected cancellation to stop the run, took %v", elapsed)
	}
	if res.TotalRequests >= 10 {
		t.Fatalf("expected the run to stop early, got %+v", res)
	}
}
