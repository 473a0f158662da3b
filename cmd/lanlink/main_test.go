package main

import (
	"testing"
	"time"

	"github.com/cuemby/lanlink/pkg/events"
	"github.com/cuemby/lanlink/pkg/metrics"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchEventsTracksWorkers(t *testing.T) {
	sub := make(events.Subscriber, 10)
	done := make(chan struct{})
	go func() {
		watchEvents(sub)
		close(done)
	}()

	sub <- events.NewEvent(events.EventWorkerStarted, "broadcast", "started with PID 10")
	sub <- events.NewEvent(events.EventWorkerStarted, "edge", "started with PID 11")
	sub <- events.NewEvent(events.EventWorkerExited, "edge", "exit status 1")
	sub <- events.NewEvent(events.EventWorkerStopped, "broadcast", "stopped on request")
	close(sub)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchEvents did not return after the subscription closed")
	}

	health := metrics.GetHealth()
	assert.Equal(t, "unhealthy: exit status 1", health.Components["edge"])
	assert.NotContains(t, health.Components, "broadcast")
	metrics.RemoveComponent("edge")
}

func TestCommandTree(t *testing.T) {
	paths := [][]string{
		{"serve"},
		{"worker", "start"},
		{"worker", "stop"},
		{"worker", "status"},
		{"edge", "status"},
		{"edge", "address"},
		{"edge", "members"},
		{"edge", "group"},
		{"nat", "detect"},
		{"history", "runs"},
		{"history", "nat"},
		{"config", "show"},
		{"config", "validate"},
	}

	for _, path := range paths {
		cmd, rest, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Empty(t, rest, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestLoadConfigAPIOverride(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("api", "", "")
	require.NoError(t, cmd.Flags().Set("api", "127.0.0.1:9999"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Addr)

	c, err := newClient(cmd)
	require.NoError(t, err)
	assert.NotNil(t, c)
}
