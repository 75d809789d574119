// Package registry implements the pending-response registry and the
// single-assignment ResponseCompletion result slot (spec §3, §4.7).
//
// Grounded on the teacher's internal/websocket/hub.go: Hub.responseChs is a
// map[string]chan *ResponseMessage registered before a command is sent and
// consumed exactly once by DeliverResponse, with a timeout fallback in
// SendCommandAndWait. PendingRegistry generalizes that shape from a
// single-shot channel map to a map of ResponseCompletion objects that also
// track cancellation and terminal-state listeners.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/brineshore/kadnet/internal/message"
	"github.com/brineshore/kadnet/internal/transporterr"
)

// State tags a ResponseCompletion's outcome.
type State int

const (
	Pending State = iota
	OK
	Failed
	Cancelled
)

// Outcome is the terminal (or pending) state of a ResponseCompletion.
type Outcome struct {
	State State
	Reply message.Message  // valid when State == OK
	Err   *transporterr.Error // valid when State == Failed or Cancelled
}

// ResponseCompletion is the single-assignment result slot representing the
// outcome of one request (spec §3 invariant i: pending -> terminal exactly
// once; later writes are no-ops).
type ResponseCompletion struct {
	Request message.Message

	// TraceID correlates this completion across log lines and the
	// introspection websocket feed. It never goes on the wire: the
	// wire-level correlation key is Request.ID (spec §3 invariant iii).
	TraceID string

	mu        sync.Mutex
	state     State
	outcome   Outcome
	listeners []func(Outcome)
	cancelFns []func()
	done      chan struct{}
}

// NewCompletion creates a pending completion for the given request message.
func NewCompletion(request message.Message) *ResponseCompletion {
	return &ResponseCompletion{
		Request: request,
		TraceID: uuid.New().String(),
		done:    make(chan struct{}),
	}
}

// IsTerminal reports whether this completion has already resolved.
func (c *ResponseCompletion) IsTerminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != Pending
}

// State returns the current state.
func (c *ResponseCompletion) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnTerminal registers a listener invoked once, exactly when the completion
// transitions to a terminal state. If already terminal, the listener is
// invoked synchronously before OnTerminal returns.
func (c *ResponseCompletion) OnTerminal(fn func(Outcome)) {
	c.mu.Lock()
	if c.state == Pending {
		c.listeners = append(c.listeners, fn)
		c.mu.Unlock()
		return
	}
	outcome := c.outcome
	c.mu.Unlock()
	fn(outcome)
}

// AddCancelFunc registers a cleanup hook run when this completion is
// cancelled (spec §5: cancelling propagates to the channel future, the
// watchdog, and the registry entry).
func (c *ResponseCompletion) AddCancelFunc(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Pending {
		c.cancelFns = append(c.cancelFns, fn)
	}
}

// Done returns a channel closed when the completion reaches a terminal
// state, for use in select statements.
func (c *ResponseCompletion) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the terminal outcome; only meaningful once IsTerminal().
func (c *ResponseCompletion) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// CompleteOK resolves the completion successfully with the given reply. A
// no-op if already terminal.
func (c *ResponseCompletion) CompleteOK(reply message.Message) {
	c.resolve(Outcome{State: OK, Reply: reply})
}

// CompleteFailed resolves the completion with a failure. A no-op if already
// terminal.
func (c *ResponseCompletion) CompleteFailed(err *transporterr.Error) {
	c.resolve(Outcome{State: Failed, Err: err})
}

// Cancel resolves the completion as cancelled and runs cancellation hooks.
// Idempotent: cancelling an already-terminal completion is a no-op (spec
// §8 round-trip property).
func (c *ResponseCompletion) Cancel() {
	resolved := c.resolve(Outcome{State: Cancelled, Err: transporterr.New(transporterr.KindCancelled, "cancelled", nil)})
	if !resolved {
		return
	}
	c.mu.Lock()
	fns := c.cancelFns
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// resolve performs the single-assignment transition and fires listeners. It
// returns whether this call actually performed the transition (false if the
// completion was already terminal).
func (c *ResponseCompletion) resolve(outcome Outcome) bool {
	c.mu.Lock()
	if c.state != Pending {
		c.mu.Unlock()
		return false
	}
	c.state = outcome.State
	c.outcome = outcome
	listeners := c.listeners
	c.listeners = nil
	c.mu.Unlock()
	close(c.done)

	for _, fn := range listeners {
		fn(outcome)
	}
	return true
}
