package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeProcess CheckType = "process"
	CheckTypeControl CheckType = "control"
	CheckTypeHTTP    CheckType = "http"
)

// Result represents the outcome of a health check
type Result struct {
	Type      CheckType     `json:"type"`
	Healthy   bool          `json:"healthy"`
	Message   string        `json:"message"`
	Attempts  int           `json:"attempts"`
	CheckedAt time.Time     `json:"checked_at"`
	Duration  time.Duration `json:"duration"`
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config bounds a probe
type Config struct {
	// Attempts is the number of checks before giving up
	Attempts int

	// Interval is the pause between failed attempts
	Interval time.Duration

	// Timeout bounds a single attempt
	Timeout time.Duration
}

// EdgeConfig is the liveness policy for the edge management port: three
// attempts 600ms apart
func EdgeConfig() Config {
	return Config{
		Attempts: 3,
		Interval: 600 * time.Millisecond,
		Timeout:  3 * time.Second,
	}
}

// Probe runs checker until it reports healthy or the attempts are used up.
// The last result is returned with Attempts set.
func Probe(ctx context.Context, checker Checker, cfg Config) Result {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var result Result
	for i := 1; i <= attempts; i++ {
		result = check(ctx, checker, cfg.Timeout)
		result.Attempts = i
		if result.Healthy || i == attempts {
			return result
		}

		select {
		case <-ctx.Done():
			result.Message = ctx.Err().Error()
			return result
		case <-time.After(cfg.Interval):
		}
	}
	return result
}

func check(ctx context.Context, checker Checker, timeout time.Duration) Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return checker.Check(ctx)
}

// ProcessChecker reports whether a process is alive
type ProcessChecker struct {
	Name   string
	Status func() bool
}

func (p *ProcessChecker) Check(ctx context.Context) Result {
	start := time.Now()
	healthy := p.Status()

	message := p.Name + " is running"
	if !healthy {
		message = p.Name + " is not running"
	}
	return Result{
		Type:      CheckTypeProcess,
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (p *ProcessChecker) Type() CheckType {
	return CheckTypeProcess
}

// ControlChecker asks the edge management port whether it answers
type ControlChecker struct {
	Test func(ctx context.Context) bool
}

func (c *ControlChecker) Check(ctx context.Context) Result {
	start := time.Now()
	healthy := c.Test(ctx)

	message := "management port answered"
	if !healthy {
		message = "management port did not answer"
	}
	return Result{
		Type:      CheckTypeControl,
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (c *ControlChecker) Type() CheckType {
	return CheckTypeControl
}
