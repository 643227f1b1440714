// Package bulk applies one mutation to a list of nodes, one at a time.
//
// A run stops at the first failure. Nodes already processed stay mutated;
// nothing is rolled back. The Report says which nodes were applied, which one
// failed and which were never attempted.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fruitsalade/projectfiles/pkg/logger"
	"github.com/fruitsalade/projectfiles/pkg/models"
)

// ErrBusy is returned when Run is called while another run is in progress.
var ErrBusy = errors.New("a bulk action is already running")

// Action names a bulk mutation.
type Action string

const (
	ActionMove   Action = "move"
	ActionDelete Action = "delete"
	ActionAccess Action = "access"
)

// State is the executor's lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Func mutates one node.
type Func func(ctx context.Context, n models.Node) error

// Report describes the outcome of one run.
type Report struct {
	Action  Action
	Applied []string
	Failed  string // empty on success
	Skipped []string
	Err     error
}

// OK reports whether every node was applied.
func (r *Report) OK() bool {
	return r.Err == nil
}

// Executor runs bulk actions sequentially. Safe for concurrent use.
type Executor struct {
	onFinish func(*Report)

	mu    sync.Mutex
	state State
	last  *Report
}

// Option configures an Executor.
type Option func(*Executor)

// OnFinish registers a callback run with the report of every finished run.
func OnFinish(fn func(*Report)) Option {
	return func(e *Executor) {
		e.onFinish = fn
	}
}

// NewExecutor returns an idle executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run applies fn to each node in order and stops at the first error.
// The returned error wraps the failing node's error.
func (e *Executor) Run(ctx context.Context, action Action, nodes []models.Node, fn Func) (*Report, error) {
	e.mu.Lock()
	if e.state == Running {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	e.state = Running
	e.mu.Unlock()

	report := &Report{Action: action, Applied: make([]string, 0, len(nodes))}
	for i, n := range nodes {
		if err := ctx.Err(); err != nil {
			report.Err = fmt.Errorf("%s: %w", action, err)
			report.Skipped = models.IDs(nodes[i:])
			break
		}
		if err := fn(ctx, n); err != nil {
			report.Failed = n.ID
			report.Err = fmt.Errorf("%s %q: %w", action, n.Name, err)
			report.Skipped = models.IDs(nodes[i+1:])
			break
		}
		report.Applied = append(report.Applied, n.ID)
	}

	e.mu.Lock()
	e.last = report
	if report.Err != nil {
		e.state = Failed
	} else {
		e.state = Succeeded
	}
	e.mu.Unlock()

	if e.onFinish != nil {
		e.onFinish(report)
	}
	if report.Err != nil {
		logger.Warn("bulk action failed",
			logger.String("action", string(action)),
			logger.Int("applied", len(report.Applied)),
			logger.Int("skipped", len(report.Skipped)),
			logger.Err(report.Err),
		)
		return report, report.Err
	}
	logger.Debug("bulk action done",
		logger.String("action", string(action)),
		logger.Int("applied", len(report.Applied)),
	)
	return report, nil
}

// Acknowledge returns a finished executor to Idle.
func (e *Executor) Acknowledge() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Running {
		e.state = Idle
	}
}

// State returns the current state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// InProgress reports whether a run is executing.
func (e *Executor) InProgress() bool {
	return e.State() == Running
}

// Last returns the report of the most recent finished run.
func (e *Executor) Last() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
