package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProbeStopsOnFirstSuccess(t *testing.T) {
	var calls atomic.Int32
	checker := &ControlChecker{Test: func(context.Context) bool {
		return calls.Add(1) == 2
	}}

	result := Probe(context.Background(), checker, Config{Attempts: 3, Interval: 10 * time.Millisecond})
	assert.True(t, result.Healthy)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProbeGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	checker := &ControlChecker{Test: func(context.Context) bool {
		calls.Add(1)
		return false
	}}

	start := time.Now()
	result := Probe(context.Background(), checker, Config{Attempts: 3, Interval: 50 * time.Millisecond})
	assert.False(t, result.Healthy)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())

	// two pauses between three attempts
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestProbeHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	checker := &ControlChecker{Test: func(context.Context) bool {
		cancel()
		return false
	}}

	result := Probe(ctx, checker, Config{Attempts: 3, Interval: time.Hour})
	assert.False(t, result.Healthy)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, context.Canceled.Error(), result.Message)
}

func TestProbeAppliesTimeout(t *testing.T) {
	checker := &ControlChecker{Test: func(ctx context.Context) bool {
		deadline, ok := ctx.Deadline()
		return ok && time.Until(deadline) <= 100*time.Millisecond
	}}

	result := Probe(context.Background(), checker, Config{Attempts: 1, Timeout: 100 * time.Millisecond})
	assert.True(t, result.Healthy)
}

func TestEdgeConfig(t *testing.T) {
	cfg := EdgeConfig()
	assert.Equal(t, 3, cfg.Attempts)
	assert.Equal(t, 600*time.Millisecond, cfg.Interval)
}

func TestProcessChecker(t *testing.T) {
	running := true
	checker := &ProcessChecker{Name: "broadcast", Status: func() bool { return running }}

	result := checker.Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Equal(t, "broadcast is running", result.Message)

	running = false
	result = checker.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Equal(t, CheckTypeProcess, checker.Type())
}
