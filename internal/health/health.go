package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Check returns nil when the dependency is usable.
type Check func(ctx context.Context) error

type CheckResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.LatencyMS)
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

type named struct {
	name  string
	check Check
}

// Checker runs the readiness checks registered at startup.
type Checker struct {
	timeout time.Duration
	checks  []named
}

func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{timeout: timeout}
}

func (c *Checker) Add(name string, check Check) {
	c.checks = append(c.checks, named{name: name, check: check})
}

// CheckAll runs all checks concurrently and returns the combined status.
func (c *Checker) CheckAll(ctx context.Context) HealthStatus {
	results := make([]CheckResult, len(c.checks))
	var wg sync.WaitGroup
	for i, n := range c.checks {
		wg.Add(1)
		go func(i int, n named) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			start := time.Now()
			err := n.check(cctx)
			results[i] = CheckResult{Name: n.name, OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Error = err.Error()
			}
		}(i, n)
	}
	wg.Wait()

	allOK := true
	for _, r := range results {
		allOK = allOK && r.OK
	}
	return HealthStatus{OK: allOK, Checks: results, CheckedAt: time.Now().UTC()}
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

func Ping(p Pinger) Check {
	return func(ctx context.Context) error { return p.Ping(ctx) }
}

// Configured fails when a required setting is empty.
func Configured(setting, value string) Check {
	return func(context.Context) error {
		if value == "" {
			return errors.New(setting + " not set")
		}
		return nil
	}
}
