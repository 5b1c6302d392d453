package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type CheckResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a named probe function to Checker.
type CheckerFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (c CheckerFunc) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := c.Fn(ctx)
	res := CheckResult{Name: c.Name, Healthy: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// ProbeRunner runs every checker concurrently under one timeout.
type ProbeRunner struct {
	checkers []Checker
	timeout  time.Duration
}

func NewProbeRunner(timeout time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{checkers: checkers, timeout: timeout}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make([]CheckResult, len(p.checkers))
	var g errgroup.Group
	for i, c := range p.checkers {
		g.Go(func() error {
			results[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	ready := true
	for _, r := range results {
		if !r.Healthy {
			ready = false
		}
	}
	return ready, results
}

func DatabaseChecker(db *gorm.DB) Checker {
	return CheckerFunc{Name: "db", Fn: func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}}
}

func RedisChecker(client redis.UniversalClient) Checker {
	return CheckerFunc{Name: "redis", Fn: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}
