package registry

import (
	"context"

	"github.com/cuemby/lanlink/pkg/control"
	"github.com/cuemby/lanlink/pkg/log"
	"github.com/cuemby/lanlink/pkg/process"
	"go.uber.org/multierr"
)

// Entry is a registered worker. The set of implementations is closed:
// *Generic for plain processes and *Edge for the worker that also speaks
// the management protocol.
type Entry interface {
	// Program returns the supervised process
	Program() *process.Program

	// Release tears the worker down. It is the single release point for
	// every removal path.
	Release() error

	sealed()
}

// Generic is a worker with no protocol access
type Generic struct {
	program *process.Program
}

// NewGeneric wraps a program as a plain registry entry
func NewGeneric(program *process.Program) *Generic {
	return &Generic{program: program}
}

func (g *Generic) Program() *process.Program {
	return g.program
}

func (g *Generic) Release() error {
	return g.program.Stop()
}

func (*Generic) sealed() {}

// Edge is the network edge worker paired with its management client
type Edge struct {
	program    *process.Program
	controller *control.Client
}

// NewEdge pairs the edge program with a management client
func NewEdge(program *process.Program, controller *control.Client) *Edge {
	return &Edge{program: program, controller: controller}
}

func (e *Edge) Program() *process.Program {
	return e.program
}

// Controller returns the management client. Callers reach it through
// Registry.WithEdge, which holds the entry lock for them.
func (e *Edge) Controller() *control.Client {
	return e.controller
}

// Release asks the edge to stop over the management port, then kills the
// process and closes the management socket. A failed stop request is
// logged and does not prevent the kill.
func (e *Edge) Release() error {
	if e.program.Status() {
		ctx, cancel := context.WithTimeout(context.Background(), control.DefaultTimeout)
		if err := e.controller.Shutdown(ctx); err != nil {
			logger := log.WithWorker(e.program.Name())
			logger.Warn().Err(err).Msg("Management stop request failed, killing process")
		}
		cancel()
	}

	return multierr.Combine(e.program.Stop(), e.controller.Close())
}

func (*Edge) sealed() {}
