/*
Package log provides structured logging for Lanlink using zerolog.

The package wraps a single global zerolog.Logger with a small configuration
surface (level, JSON vs console output, destination) and helpers that derive
child loggers carrying a component or worker field. Every supervised worker
process gets its own child logger so that lines forwarded from its standard
output can be filtered by worker name.

# Architecture

	┌────────────────────── LOGGING ───────────────────────┐
	│                                                        │
	│  log.Init(Config) ──► global zerolog.Logger            │
	│                          │                             │
	│          ┌───────────────┼────────────────┐            │
	│          ▼               ▼                ▼            │
	│  WithComponent("nat")  WithWorker("edge")  log.Info()  │
	│          │               │                             │
	│          │      stdout forwarder goroutines            │
	│          ▼               ▼                             │
	│      console writer (RFC3339) or JSON lines            │
	└────────────────────────────────────────────────────────┘

zerolog loggers are safe for concurrent use, so the per-worker forwarders
write through the same sink without extra locking.

# Usage

	log.Init(log.Config{Level: log.ParseLevel("debug"), Output: os.Stderr})

	logger := log.WithComponent("registry")
	logger.Info().Str("worker", "edge").Msg("Worker registered")

	edgeLog := log.WithWorker("edge")
	edgeLog.Info().Msg("edge joined community lers10")

Output (console):

	2025-01-04T10:30:00Z INF Worker registered component=registry worker=edge
*/
package log
