package loadgen

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	// Requests caps the run; zero means RPS*Duration.
	Requests int
	Seed     int64
	// SessionCookie is sent as the sid cookie on every request when set.
	SessionCookie string
	Client        *http.Client
}

type Result struct {
	TotalRequests int64            `json:"total_requests"`
	Failures      int64            `json:"failures"`
	RateLimited   int64            `json:"rate_limited"`
	StatusClasses map[string]int64 `json:"status_classes"`
	// FirstLimitedAt is the 1-based ordinal of the first 429, zero when none.
	FirstLimitedAt int64  `json:"first_limited_at"`
	RetryAfter     string `json:"retry_after,omitempty"`
}

type target struct {
	method string
	path   string
	body   string
}

var profiles = map[string][]target{
	"api": {
		{method: http.MethodGet, path: "/api/orders"},
	},
	"auth": {
		{method: http.MethodPost, path: "/api/auth/2fa/verify", body: `{"userId":"loadgen","token":"000000"}`},
	},
	"mixed": {
		{method: http.MethodGet, path: "/api/orders"},
		{method: http.MethodGet, path: "/api/vendors"},
		{method: http.MethodGet, path: "/api/dashboard/summary"},
		{method: http.MethodGet, path: "/api/csrf/token"},
	},
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "mixed"
	}
	return p
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

// Run drives traffic at cfg.BaseURL and reports where throttling began.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	profile := normalizeProfile(cfg.Profile)
	targets, ok := profiles[profile]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	total := cfg.Requests
	if total <= 0 {
		total = int(cfg.Duration.Seconds() * float64(cfg.RPS))
	}
	if total <= 0 {
		return nil, fmt.Errorf("nothing to send: set requests or rps and duration")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	rng := rand.New(rand.NewSource(cfg.Seed))

	var (
		seq   atomic.Int64
		mu    sync.Mutex
		res   = &Result{StatusClasses: map[string]int64{}}
		pacer *rate.Limiter
	)
	if cfg.RPS > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Concurrency, 1))
	for i := 0; i < total; i++ {
		if pacer != nil {
			if err := pacer.Wait(gctx); err != nil {
				return res, g.Wait()
			}
		}
		t := targets[rng.Intn(len(targets))]
		g.Go(func() error {
			status, retryAfter, err := send(gctx, client, base, t, cfg.SessionCookie)
			n := seq.Add(1)
			mu.Lock()
			defer mu.Unlock()
			res.TotalRequests++
			if err != nil {
				res.Failures++
				res.StatusClasses["error"]++
				return nil
			}
			res.StatusClasses[classifyStatusClass(status)]++
			if status >= 500 {
				res.Failures++
			}
			if status == http.StatusTooManyRequests {
				res.RateLimited++
				if res.FirstLimitedAt == 0 || n < res.FirstLimitedAt {
					res.FirstLimitedAt = n
					res.RetryAfter = retryAfter
				}
			}
			return nil
		})
	}
	return res, g.Wait()
}

func send(ctx context.Context, client *http.Client, base string, t target, session string) (int, string, error) {
	var body io.Reader
	if t.body != "" {
		body = strings.NewReader(t.body)
	}
	req, err := http.NewRequestWithContext(ctx, t.method, base+t.path, body)
	if err != nil {
		return 0, "", err
	}
	if t.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: session})
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, resp.Header.Get("Retry-After"), nil
}
