package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cuemby/lanlink/pkg/log"
	"github.com/cuemby/lanlink/pkg/process"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

var (
	// ErrNotFound is returned when no entry is registered under a name
	ErrNotFound = errors.New("registry: worker not found")

	// ErrAlreadyRegistered is returned when a live entry already holds the name
	ErrAlreadyRegistered = errors.New("registry: worker already registered")

	// ErrWrongVariant is returned when protocol access is requested for a
	// worker that does not speak the management protocol
	ErrWrongVariant = errors.New("registry: worker does not support the management protocol")

	// ErrLockPoisoned is returned for an entry whose lock holder panicked
	ErrLockPoisoned = errors.New("registry: worker lock poisoned")
)

// slot is the shared, lockable holder of one entry. The entry pointer never
// changes after registration; the lock serializes protocol access.
type slot struct {
	mu       sync.RWMutex
	poisoned atomic.Bool
	entry    Entry
}

// Registry maps worker names to entries. Its own mutex is only held for
// table operations, never across a protocol call.
type Registry struct {
	mu     sync.Mutex
	slots  map[string]*slot
	logger zerolog.Logger
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		slots:  make(map[string]*slot),
		logger: log.WithComponent("registry"),
	}
}

func (r *Registry) lookup(name string) (*slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[name]
	return s, ok
}

// IsRunning reports whether name is registered and its process is alive
func (r *Registry) IsRunning(name string) bool {
	s, ok := r.lookup(name)
	if !ok {
		return false
	}
	if s.poisoned.Load() {
		r.logger.Error().Str("worker", name).Err(ErrLockPoisoned).Msg("Cannot query worker status")
		return false
	}
	return s.entry.Program().Status()
}

// Program returns the process of a registered worker
func (r *Registry) Program(name string) (*process.Program, error) {
	s, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.entry.Program(), nil
}

// Register inserts entry under name. A live entry under the same name is
// never replaced; a dead one is released and replaced.
func (r *Registry) Register(name string, entry Entry) error {
	r.mu.Lock()
	existing, ok := r.slots[name]
	if ok && !existing.poisoned.Load() && existing.entry.Program().Status() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.slots[name] = &slot{entry: entry}
	r.mu.Unlock()

	if ok {
		if err := r.release(name, existing); err != nil {
			r.logger.Warn().Str("worker", name).Err(err).Msg("Failed to release replaced worker")
		}
	}

	r.logger.Debug().Str("worker", name).Msg("Worker registered")
	return nil
}

// Drop removes name and releases its worker. Dropping an unknown name succeeds.
func (r *Registry) Drop(name string) error {
	r.mu.Lock()
	s, ok := r.slots[name]
	delete(r.slots, name)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return r.release(name, s)
}

// WithEdge runs fn with exclusive access to the edge entry registered under
// name. The entry lock is held until fn returns.
func (r *Registry) WithEdge(name string, fn func(*Edge) error) error {
	s, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return r.exclusive(name, s, func(entry Entry) error {
		switch e := entry.(type) {
		case *Edge:
			return fn(e)
		case *Generic:
			return fmt.Errorf("%w: %s", ErrWrongVariant, name)
		default:
			return fmt.Errorf("%w: %s (%T)", ErrWrongVariant, name, entry)
		}
	})
}

// Names returns the registered worker names in sorted order
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.slots))
	for name := range r.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StopAll empties the registry and releases every worker, continuing past
// individual failures
func (r *Registry) StopAll() error {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[string]*slot)
	r.mu.Unlock()

	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs error
	for _, name := range names {
		if err := r.release(name, slots[name]); err != nil {
			r.logger.Error().Str("worker", name).Err(err).Msg("Failed to stop worker")
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errs
}

// release stops a removed entry. A poisoned entry is still released, without
// its lock, and the poisoning is reported alongside any release error.
func (r *Registry) release(name string, s *slot) error {
	if s.poisoned.Load() {
		r.logger.Error().Str("worker", name).Msg("Releasing worker with poisoned lock")
		return multierr.Combine(fmt.Errorf("%w: %s", ErrLockPoisoned, name), s.entry.Release())
	}
	return r.exclusive(name, s, Entry.Release)
}

// exclusive runs fn under the slot's write lock. A panic in fn poisons the
// slot and is returned as an error.
func (r *Registry) exclusive(name string, s *slot, fn func(Entry) error) (err error) {
	if s.poisoned.Load() {
		return fmt.Errorf("%w: %s", ErrLockPoisoned, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned.Load() {
		return fmt.Errorf("%w: %s", ErrLockPoisoned, name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.poisoned.Store(true)
			r.logger.Error().Str("worker", name).Interface("panic", rec).Msg("Panic while holding worker lock")
			err = fmt.Errorf("%w: %s: panic: %v", ErrLockPoisoned, name, rec)
		}
	}()

	return fn(s.entry)
}
