package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/lanlink/pkg/config"
	"github.com/cuemby/lanlink/pkg/control"
	"github.com/cuemby/lanlink/pkg/directory"
	"github.com/cuemby/lanlink/pkg/events"
	"github.com/cuemby/lanlink/pkg/health"
	"github.com/cuemby/lanlink/pkg/log"
	"github.com/cuemby/lanlink/pkg/metrics"
	"github.com/cuemby/lanlink/pkg/nat"
	"github.com/cuemby/lanlink/pkg/process"
	"github.com/cuemby/lanlink/pkg/registry"
	"github.com/cuemby/lanlink/pkg/storage"
	"github.com/cuemby/lanlink/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownWorker    = errors.New("supervisor: unknown worker")
	ErrMissingParam     = errors.New("supervisor: missing parameter")
	ErrNotRunning       = errors.New("supervisor: worker is not running")
	ErrEdgeUnresponsive = errors.New("supervisor: edge management port is not responding")
	ErrNoMemberServer   = errors.New("supervisor: no member server configured")
	ErrNoServer         = errors.New("supervisor: no edge server configured")
)

// MemberDirectory lists the members of a group
type MemberDirectory interface {
	Members(ctx context.Context, group string) ([]directory.Record, error)
}

// NATDetector classifies the host's NAT
type NATDetector interface {
	Detect(ctx context.Context) (*nat.Result, error)
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithStore records run and NAT history
func WithStore(store storage.Store) Option {
	return func(s *Supervisor) {
		s.store = store
	}
}

// WithBroker publishes lifecycle events
func WithBroker(broker *events.Broker) Option {
	return func(s *Supervisor) {
		s.broker = broker
	}
}

// WithDirectory replaces the member directory client
func WithDirectory(dir MemberDirectory) Option {
	return func(s *Supervisor) {
		s.directory = dir
	}
}

// WithNATDetector replaces the NAT classifier
func WithNATDetector(detector NATDetector) Option {
	return func(s *Supervisor) {
		s.detector = detector
	}
}

// WithEdgeHealth overrides the edge liveness policy
func WithEdgeHealth(cfg health.Config) Option {
	return func(s *Supervisor) {
		s.edgeHealth = cfg
	}
}

// Supervisor is the worker control surface. It owns the registry and
// releases every worker on Shutdown.
type Supervisor struct {
	cfg        *config.Config
	registry   *registry.Registry
	store      storage.Store
	broker     *events.Broker
	directory  MemberDirectory
	detector   NATDetector
	edgeHealth health.Config
	logger     zerolog.Logger

	// startMu serializes Start, Stop and Shutdown so a launch is never split
	// by another lifecycle change between spawning and registering
	startMu sync.Mutex

	runsMu sync.Mutex
	runs   map[types.WorkerName]*types.RunRecord
}

// New creates a supervisor with an empty registry
func New(cfg *config.Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:        cfg,
		registry:   registry.New(),
		edgeHealth: health.EdgeConfig(),
		logger:     log.WithComponent("supervisor"),
		runs:       make(map[types.WorkerName]*types.RunRecord),
	}
	if cfg.Edge.MemberServer != "" {
		s.directory = directory.NewClient(cfg.Edge.MemberServer)
	}
	if len(cfg.NAT.Servers) >= 2 {
		s.detector = nat.NewClassifier(cfg.NAT.Servers[0], cfg.NAT.Servers[1],
			nat.WithTimeout(cfg.NAT.Timeout),
			nat.WithRetries(cfg.NAT.Retries))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the worker registry
func (s *Supervisor) Registry() *registry.Registry {
	return s.registry
}

func parseWorker(name string) (types.WorkerName, error) {
	w := types.WorkerName(name)
	if !w.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownWorker, name)
	}
	return w, nil
}

// Start launches a worker. Starting a running worker is a successful no-op.
func (s *Supervisor) Start(name string, params Params) (bool, error) {
	worker, err := parseWorker(name)
	if err != nil {
		return false, err
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.registry.IsRunning(name) {
		s.logger.Debug().Str("worker", name).Msg("Worker already running")
		return true, nil
	}

	if err := s.start(worker, params); err != nil {
		metrics.WorkerStartsTotal.WithLabelValues(name, "error").Inc()
		s.logger.Error().Str("worker", name).Err(err).Msg("Failed to start worker")
		return false, err
	}

	metrics.WorkerStartsTotal.WithLabelValues(name, "ok").Inc()
	metrics.SetWorkerRunning(name, true)
	return true, nil
}

func (s *Supervisor) start(worker types.WorkerName, params Params) error {
	if worker == types.WorkerEdge && s.cfg.Edge.Server == "" {
		return ErrNoServer
	}

	spec, err := buildLaunchSpec(s.cfg, worker, params)
	if err != nil {
		return err
	}

	program := process.New(worker.String(), spec.path, spec.args, process.WithExitHook(s.onExit))
	if err := program.Start(); err != nil {
		return err
	}

	// From here on every failure must release the process
	var entry registry.Entry = registry.NewGeneric(program)
	if worker == types.WorkerEdge {
		controller, err := control.New(s.cfg.Edge.ControlPort, control.WithKey(s.cfg.Edge.AuthKey))
		if err != nil {
			_ = program.Stop()
			return fmt.Errorf("failed to create management client: %w", err)
		}
		entry = registry.NewEdge(program, controller)
	}

	if err := s.registry.Register(worker.String(), entry); err != nil {
		if releaseErr := entry.Release(); releaseErr != nil {
			s.logger.Warn().Str("worker", worker.String()).Err(releaseErr).Msg("Failed to release unregistered worker")
		}
		return err
	}

	s.openRun(worker, program)

	s.publish(events.EventWorkerStarted, worker.String(), fmt.Sprintf("started with PID %d", program.PID()), map[string]string{
		"pid":  fmt.Sprint(program.PID()),
		"path": spec.path,
	})
	s.logger.Info().
		Str("worker", worker.String()).
		Int("pid", program.PID()).
		Str("path", spec.path).
		Msg("Worker started")
	return nil
}

// Stop removes a worker and releases it. Stopping an absent worker succeeds.
// A Stop that arrives during a Start waits for it and stops the new worker.
func (s *Supervisor) Stop(name string) (bool, error) {
	if _, err := parseWorker(name); err != nil {
		return false, err
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	_, lookupErr := s.registry.Program(name)
	if err := s.registry.Drop(name); err != nil {
		s.logger.Error().Str("worker", name).Err(err).Msg("Failed to stop worker")
		return false, err
	}

	if lookupErr == nil {
		s.publish(events.EventWorkerStopped, name, "stopped on request", nil)
		s.logger.Info().Str("worker", name).Msg("Worker stopped")
	}
	metrics.SetWorkerRunning(name, false)
	return true, nil
}

// Status reports whether a worker process is alive
func (s *Supervisor) Status(name string) bool {
	return s.registry.IsRunning(name)
}

// WorkerStatus describes a worker
func (s *Supervisor) WorkerStatus(name string) (types.WorkerStatus, error) {
	worker, err := parseWorker(name)
	if err != nil {
		return types.WorkerStatus{}, err
	}

	status := types.WorkerStatus{Name: worker}
	if program, err := s.registry.Program(name); err == nil && program.Status() {
		status.Running = true
		status.PID = program.PID()
	}
	return status, nil
}

// onExit runs on the process waiter goroutine whenever a worker ends
func (s *Supervisor) onExit(exit process.Exit) {
	metrics.SetWorkerRunning(exit.Name, false)

	reason := "stopped"
	if !exit.Requested {
		reason = "exited"
		if exit.Err != nil {
			reason = exit.Err.Error()
		}
		metrics.WorkerExitsTotal.WithLabelValues(exit.Name).Inc()
		s.publish(events.EventWorkerExited, exit.Name, reason, map[string]string{
			"pid": fmt.Sprint(exit.PID),
		})
	}

	s.closeRun(types.WorkerName(exit.Name), exit.PID, reason)
}

func (s *Supervisor) openRun(worker types.WorkerName, program *process.Program) {
	run := &types.RunRecord{
		ID:        uuid.New().String(),
		Worker:    worker,
		PID:       program.PID(),
		Path:      program.Path(),
		Args:      redactArgs(program.Args()),
		StartedAt: time.Now(),
	}

	s.runsMu.Lock()
	s.runs[worker] = run
	s.runsMu.Unlock()

	s.saveRun(run)

	// the exit hook may have fired before the run was recorded
	if !program.Status() {
		s.closeRun(worker, run.PID, "exited")
	}
}

func (s *Supervisor) closeRun(worker types.WorkerName, pid int, reason string) {
	s.runsMu.Lock()
	run, ok := s.runs[worker]
	if !ok || run.PID != pid {
		s.runsMu.Unlock()
		return
	}
	delete(s.runs, worker)
	s.runsMu.Unlock()

	run.StoppedAt = time.Now()
	run.ExitReason = reason
	s.saveRun(run)
}

func (s *Supervisor) saveRun(run *types.RunRecord) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveRun(run); err != nil {
		s.logger.Warn().Str("worker", run.Worker.String()).Err(err).Msg("Failed to record run")
	}
}

// redactArgs hides the management password in recorded arguments
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--management-password" {
			out[i+1] = "********"
		}
	}
	return out
}

func (s *Supervisor) publish(typ events.EventType, worker, message string, metadata map[string]string) {
	if s.broker == nil {
		return
	}
	ev := events.NewEvent(typ, worker, message)
	for k, v := range metadata {
		ev.Metadata[k] = v
	}
	s.broker.Publish(ev)
}

// withEdge runs fn against a running edge
func (s *Supervisor) withEdge(fn func(c *control.Client) error) error {
	edge := types.WorkerEdge.String()
	if !s.registry.IsRunning(edge) {
		return fmt.Errorf("%w: %s", ErrNotRunning, edge)
	}
	return s.registry.WithEdge(edge, func(e *registry.Edge) error {
		return fn(e.Controller())
	})
}

// EdgeStatus reports whether the edge is running and its management port
// answers. A live process with a silent port is ErrEdgeUnresponsive.
func (s *Supervisor) EdgeStatus(ctx context.Context) (bool, error) {
	result, err := s.edgeProbe(ctx)
	if errors.Is(err, ErrNotRunning) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !result.Healthy {
		s.publish(events.EventEdgeUnresponsive, types.WorkerEdge.String(), result.Message, nil)
		return false, ErrEdgeUnresponsive
	}
	return true, nil
}

func (s *Supervisor) edgeProbe(ctx context.Context) (health.Result, error) {
	var result health.Result
	err := s.withEdge(func(c *control.Client) error {
		result = health.Probe(ctx, &health.ControlChecker{Test: c.Test}, s.edgeHealth)
		return nil
	})
	return result, err
}

// VirtualAddress returns the edge's overlay address
func (s *Supervisor) VirtualAddress(ctx context.Context) (string, error) {
	var addr string
	err := s.withEdge(func(c *control.Client) error {
		var err error
		addr, err = c.VirtualAddress(ctx)
		return err
	})
	return addr, err
}

// CurrentGroup returns the community the edge has joined
func (s *Supervisor) CurrentGroup(ctx context.Context) (string, error) {
	var group string
	err := s.withEdge(func(c *control.Client) error {
		var err error
		group, err = c.CurrentGroup(ctx)
		return err
	})
	return group, err
}

// Members lists the other members of the configured group. Membership and
// names come from the directory; the edge supplies connection modes.
func (s *Supervisor) Members(ctx context.Context) ([]types.Member, error) {
	if s.directory == nil {
		return nil, ErrNoMemberServer
	}

	var members []types.Member
	err := s.withEdge(func(c *control.Client) error {
		if !c.Test(ctx) {
			return ErrEdgeUnresponsive
		}

		records, err := s.directory.Members(ctx, s.cfg.Edge.Group)
		if err != nil {
			return err
		}

		self, err := c.VirtualAddress(ctx)
		if err != nil {
			return err
		}

		edges, err := c.Edges(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Could not list edges, connection modes unknown")
			edges = nil
		}

		members = directory.Reconcile(records, self, edges)
		return nil
	})
	return members, err
}

// DetectNAT classifies the host's NAT and records the outcome
func (s *Supervisor) DetectNAT(ctx context.Context) (*nat.Result, error) {
	if s.detector == nil {
		return nil, fmt.Errorf("%w: nat.servers needs two entries", nat.ErrServerResolution)
	}

	start := time.Now()
	result, err := s.detector.Detect(ctx)

	record := &types.NATRecord{
		ID:         uuid.New().String(),
		DetectedAt: start,
		Duration:   time.Since(start).Round(time.Millisecond).String(),
	}
	if len(s.cfg.NAT.Servers) >= 2 {
		record.Primary = s.cfg.NAT.Servers[0]
		record.Secondary = s.cfg.NAT.Servers[1]
	}

	if err != nil {
		record.Error = err.Error()
		s.publish(events.EventNATFailed, "", err.Error(), nil)
	} else {
		record.Result = result.Type.String()
		s.publish(events.EventNATDetected, "", result.Type.String(), nil)
	}

	if s.store != nil {
		if saveErr := s.store.SaveNATRecord(record); saveErr != nil {
			s.logger.Warn().Err(saveErr).Msg("Failed to record NAT result")
		}
	}
	return result, err
}

// Health checks one worker: the management port for the edge, an HTTP
// request for the file server, the process for the rest
func (s *Supervisor) Health(ctx context.Context, name string) (health.Result, error) {
	worker, err := parseWorker(name)
	if err != nil {
		return health.Result{}, err
	}

	switch worker {
	case types.WorkerEdge:
		result, err := s.edgeProbe(ctx)
		if errors.Is(err, ErrNotRunning) {
			return s.processHealth(ctx, name), nil
		}
		return result, err
	case types.WorkerFileServer:
		if !s.registry.IsRunning(name) {
			return s.processHealth(ctx, name), nil
		}
		return health.Probe(ctx, health.LocalHTTPChecker(s.cfg.FileServer.Port), health.Config{Attempts: 1}), nil
	default:
		return s.processHealth(ctx, name), nil
	}
}

func (s *Supervisor) processHealth(ctx context.Context, name string) health.Result {
	checker := &health.ProcessChecker{
		Name:   name,
		Status: func() bool { return s.registry.IsRunning(name) },
	}
	return health.Probe(ctx, checker, health.Config{Attempts: 1})
}

// Runs lists recorded worker runs, newest first
func (s *Supervisor) Runs(worker string, limit int) ([]*types.RunRecord, error) {
	if s.store == nil {
		return []*types.RunRecord{}, nil
	}
	return s.store.ListRuns(types.WorkerName(worker), limit)
}

// NATHistory lists recorded NAT classifications, newest first
func (s *Supervisor) NATHistory(limit int) ([]*types.NATRecord, error) {
	if s.store == nil {
		return []*types.NATRecord{}, nil
	}
	return s.store.ListNATRecords(limit)
}

// Shutdown stops every worker. Edges get a management stop request before
// their process is killed.
func (s *Supervisor) Shutdown() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	names := s.registry.Names()
	err := s.registry.StopAll()
	for _, name := range names {
		metrics.SetWorkerRunning(name, false)
	}

	s.logger.Info().Strs("workers", names).Msg("Supervisor shut down")
	return err
}
