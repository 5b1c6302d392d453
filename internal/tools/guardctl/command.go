package guardctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/posuite/request-guard/internal/health"
	"github.com/posuite/request-guard/internal/http/handler"
	"github.com/posuite/request-guard/internal/http/middleware"
	"github.com/posuite/request-guard/internal/tools/common"
	"github.com/posuite/request-guard/internal/tools/loadgen"
	"github.com/posuite/request-guard/internal/tools/ui"
)

type options struct {
	baseURL string
	session string
	timeout time.Duration
	ci      bool
	out     io.Writer
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdout)
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &options{out: out}
	cmd := &cobra.Command{Use: "guardctl", Short: "Inspect and exercise a running request guard"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:3000", "API base URL")
	cmd.PersistentFlags().StringVar(&opts.session, "session", os.Getenv("GUARD_SESSION"), "signed sid cookie of a 2FA-verified admin session")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall command timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newHealthCommand(opts), newStatsCommand(opts), newResetCommand(opts), newProbeCommand(opts))
	return cmd
}

func newHealthCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report dependency readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "guardctl health", func(ctx context.Context) ([]string, error) {
				c, err := newClient(opts)
				if err != nil {
					return nil, err
				}
				var body struct {
					Status string               `json:"status"`
					Checks []health.CheckResult `json:"checks"`
				}
				env, err := c.do(ctx, http.MethodGet, "/health/ready", nil, &body)
				if err != nil && env == nil {
					return nil, err
				}
				if env != nil && !env.Success {
					_ = json.Unmarshal(env.Details, &body)
				}
				details := make([]string, 0, len(body.Checks))
				for _, ch := range body.Checks {
					line := fmt.Sprintf("%s healthy=%t latency=%dms", ch.Name, ch.Healthy, ch.LatencyMS)
					if ch.Error != "" {
						line += " error=" + ch.Error
					}
					details = append(details, line)
				}
				return details, err
			})
		},
	}
}

func newStatsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show CSRF and rate limit counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats handler.SecurityStats
			err := execute(opts, "guardctl stats", func(ctx context.Context) ([]string, error) {
				c, err := newClient(opts)
				if err != nil {
					return nil, err
				}
				if _, err := c.do(ctx, http.MethodGet, "/api/admin/security/stats", nil, &stats); err != nil {
					return nil, err
				}
				return summarize(stats), nil
			})
			if err == nil && !opts.ci {
				renderStats(opts.out, stats)
			}
			return err
		},
	}
}

func newResetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear CSRF and rate limit counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "guardctl reset", func(ctx context.Context) ([]string, error) {
				c, err := newClient(opts)
				if err != nil {
					return nil, err
				}
				token, err := c.csrfToken(ctx)
				if err != nil {
					return nil, err
				}
				hdr := http.Header{"X-CSRF-Token": []string{token}}
				if _, err := c.do(ctx, http.MethodPost, "/api/admin/security/stats/reset", hdr, nil); err != nil {
					return nil, err
				}
				return []string{"counters cleared"}, nil
			})
		},
	}
}

func newProbeCommand(opts *options) *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send traffic until the rate limiter pushes back",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "guardctl probe", func(ctx context.Context) ([]string, error) {
				cfg.BaseURL = opts.baseURL
				cfg.SessionCookie = opts.session
				res, err := loadgen.Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				details := []string{
					fmt.Sprintf("sent=%d failures=%d rate_limited=%d", res.TotalRequests, res.Failures, res.RateLimited),
				}
				for _, class := range []string{"2xx", "3xx", "4xx", "5xx", "other", "error"} {
					if n := res.StatusClasses[class]; n > 0 {
						details = append(details, fmt.Sprintf("%s=%d", class, n))
					}
				}
				if res.FirstLimitedAt > 0 {
					details = append(details, fmt.Sprintf("first 429 at request %d retry_after=%ss", res.FirstLimitedAt, res.RetryAfter))
				}
				return details, nil
			})
		},
	}
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: mixed, api or auth")
	cmd.Flags().IntVar(&cfg.Requests, "requests", 150, "requests to send")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "parallel workers")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 0, "pace requests per second; 0 sends as fast as workers allow")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 42, "target selection seed")
	return cmd
}

func execute(opts *options, title string, fn func(context.Context) ([]string, error)) error {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		details, err := fn(ctx)
		common.WriteCIResult(opts.out, err == nil, title, details, err)
		return err
	}
	_, err := ui.Run(title, fn)
	return err
}

func summarize(s handler.SecurityStats) []string {
	return []string{
		fmt.Sprintf("csrf total=%d protected=%d blocked=%d", s.CSRF.TotalRequests, s.CSRF.ProtectedRequests, s.CSRF.BlockedRequests),
		fmt.Sprintf("rate_limit total=%d blocked=%d block_rate=%.2f%%", s.RateLimit.TotalRequests, s.RateLimit.BlockedRequests, s.RateLimit.BlockRate),
	}
}

func renderStats(w io.Writer, s handler.SecurityStats) {
	fmt.Fprintln(w, ui.Table("csrf block reasons", s.CSRF.BlockReasons))
	fmt.Fprintln(w, ui.Table("csrf blocked ips", entries(s.CSRF.TopBlockedIPs)))
	fmt.Fprintln(w, ui.Table("rate limited ips", entries(s.RateLimit.TopBlockedIPs)))
	fmt.Fprintln(w, ui.Table("rate limited users", entries(s.RateLimit.TopBlockedUsers)))
	fmt.Fprintln(w, ui.Table("rate limited endpoints", entries(s.RateLimit.TopEndpoints)))
}

func entries(list []middleware.LeaderboardEntry) map[string]int64 {
	out := make(map[string]int64, len(list))
	for _, e := range list {
		out[e.Key] = e.Count
	}
	return out
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

type client struct {
	base *url.URL
	http *http.Client
}

func newClient(opts *options) (*client, error) {
	base, err := url.Parse(strings.TrimRight(opts.baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if opts.session != "" {
		jar.SetCookies(base, []*http.Cookie{{Name: "sid", Value: opts.session, Path: "/"}})
	}
	return &client{base: base, http: &http.Client{Timeout: 20 * time.Second, Jar: jar}}, nil
}

// do sends one request and decodes the envelope. The envelope is returned
// alongside the error for non-2xx responses.
func (c *client) do(ctx context.Context, method, path string, hdr http.Header, dst any) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	req.Header.Set("Origin", c.base.Scheme+"://"+c.base.Host)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%s %s: decode response (%s): %w", method, path, resp.Status, err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return &env, fmt.Errorf("%s %s: %s %s %s", method, path, resp.Status, env.Code, msg)
	}
	if dst != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			return &env, fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return &env, nil
}

func (c *client) csrfToken(ctx context.Context) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/csrf/token", nil, &body); err != nil {
		return "", err
	}
	if body.Token == "" {
		return "", fmt.Errorf("csrf token endpoint returned no token")
	}
	return body.Token, nil
}
