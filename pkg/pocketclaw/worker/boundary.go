// Package worker runs the assistant's model calls on a dedicated goroutine
// behind a message-passing boundary.
//
// The coordinator sends Inbound envelopes with Dispatch and reads Outbound
// envelopes from Outbound(). For every invoke or compact envelope the worker
// emits zero or more progress envelopes followed by exactly one terminal
// envelope (Response, CompactDone or Error) carrying the same invocation ID.
// A cancel envelope travels on a separate control path so it reaches the
// worker while an invocation is running; the cancelled invocation ends with
// an Error terminal.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("worker boundary closed")

// ErrCancelled is the reason reported for a cancelled invocation.
var ErrCancelled = errors.New("invocation cancelled")

// Agent produces the reply text for one request. It reports progress
// through emit and must honor ctx cancellation.
type Agent interface {
	Run(ctx context.Context, req Request, emit *Emitter) (string, error)
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(ctx context.Context, req Request, emit *Emitter) (string, error)

// Run calls f.
func (f AgentFunc) Run(ctx context.Context, req Request, emit *Emitter) (string, error) {
	return f(ctx, req, emit)
}

// Boundary is the worker side of the boundary: one goroutine processing one
// envelope at a time.
type Boundary struct {
	agent  Agent
	in     chan []byte
	ctrl   chan []byte
	out    chan Outbound
	logger *slog.Logger

	// mu guards the running invocation and the queued ones. A queued ID
	// maps to true once it has been cancelled.
	mu      sync.Mutex
	current string
	stop    context.CancelFunc
	queued  map[string]bool

	startOnce sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures a Boundary.
type Option func(*Boundary)

// WithQueueSize sets the inbound queue capacity (default 8).
func WithQueueSize(n int) Option {
	return func(b *Boundary) {
		if n > 0 {
			b.in = make(chan []byte, n)
		}
	}
}

// NewBoundary creates a boundary around agent. Start must be called before
// envelopes are processed.
func NewBoundary(agent Agent, logger *slog.Logger, opts ...Option) *Boundary {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Boundary{
		agent:  agent,
		in:     make(chan []byte, 8),
		ctrl:   make(chan []byte, 16),
		out:    make(chan Outbound, 64),
		queued: make(map[string]bool),
		logger: logger.With("component", "worker"),
		done:   make(chan struct{}),
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the worker goroutine. Subsequent calls are no-ops.
func (b *Boundary) Start() {
	b.startOnce.Do(func() {
		go b.loop()
		go b.control()
	})
}

// Dispatch hands an envelope to the worker. It blocks while the inbound
// queue is full, until ctx is done or the boundary closes.
func (b *Boundary) Dispatch(ctx context.Context, in Inbound) error {
	data, err := EncodeInbound(in)
	if err != nil {
		return err
	}
	select {
	case <-b.ctx.Done():
		return ErrClosed
	default:
	}

	dst := b.in
	if in.Kind == KindCancel {
		dst = b.ctrl
	} else {
		b.mu.Lock()
		b.queued[in.ID] = false
		b.mu.Unlock()
	}

	select {
	case dst <- data:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-b.ctx.Done():
		err = ErrClosed
	}
	if in.Kind != KindCancel {
		b.mu.Lock()
		delete(b.queued, in.ID)
		b.mu.Unlock()
	}
	return err
}

// Outbound returns the stream of envelopes emitted by the worker. It is
// closed after Close once the worker goroutine has exited.
func (b *Boundary) Outbound() <-chan Outbound {
	return b.out
}

// Close abandons in-flight work and stops the worker.
func (b *Boundary) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.startOnce.Do(func() { close(b.out); close(b.done) })
		select {
		case <-b.done:
		case <-time.After(5 * time.Second):
			b.logger.Warn("worker did not stop in time")
		}
	})
	return nil
}

func (b *Boundary) loop() {
	defer close(b.done)
	defer close(b.out)

	for {
		select {
		case <-b.ctx.Done():
			return
		case raw := <-b.in:
			b.handle(raw)
		}
	}
}

// control applies cancel envelopes. It runs beside loop so a cancel is not
// stuck behind the invocation it targets.
func (b *Boundary) control() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case raw := <-b.ctrl:
			in, err := DecodeInbound(raw)
			if err != nil {
				b.logger.Error("dropping undecodable control envelope", "error", err)
				continue
			}
			b.cancelInvocation(in.ID)
		}
	}
}

// cancelInvocation stops the running invocation with that ID, or marks a
// queued one so it is skipped. Unknown IDs (already finished) are ignored.
func (b *Boundary) cancelInvocation(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.current == id && b.stop != nil:
		b.stop()
		b.logger.Info("invocation cancelled", "id", id)
	case b.hasQueued(id):
		b.queued[id] = true
		b.logger.Info("queued invocation cancelled", "id", id)
	}
}

func (b *Boundary) hasQueued(id string) bool {
	_, ok := b.queued[id]
	return ok
}

// begin moves id from queued to running and returns its context, or nil
// when it was cancelled while queued.
func (b *Boundary) begin(id string) (context.Context, context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cancelled := b.queued[id]
	delete(b.queued, id)
	if cancelled {
		return nil, nil
	}
	ctx, stop := context.WithCancel(b.ctx)
	b.current, b.stop = id, stop
	return ctx, stop
}

func (b *Boundary) end() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current, b.stop = "", nil
}

// handle processes one inbound envelope to its terminal envelope.
func (b *Boundary) handle(raw []byte) {
	in, err := DecodeInbound(raw)
	if err != nil {
		b.logger.Error("dropping undecodable envelope", "error", err)
		return
	}

	log := b.logger.With("id", in.ID, "kind", in.Kind, "group", in.Request.GroupID)
	hdr := Header{ID: in.ID, GroupID: in.Request.GroupID}

	ctx, stop := b.begin(in.ID)
	if ctx == nil {
		log.Debug("skipping cancelled invocation")
		b.send(Error{Header: hdr, Message: ErrCancelled.Error()})
		return
	}
	log.Debug("invocation started")
	start := time.Now()

	emit := &Emitter{id: in.ID, groupID: in.Request.GroupID, send: b.send}
	text, err := b.run(ctx, in, emit)
	b.end()
	cancelled := ctx.Err() != nil
	stop()
	if b.ctx.Err() != nil {
		log.Info("invocation abandoned")
		return
	}

	switch {
	case cancelled:
		log.Info("invocation stopped after cancel", "duration", time.Since(start))
		b.send(Error{Header: hdr, Message: ErrCancelled.Error()})
	case err != nil:
		log.Warn("invocation failed", "error", err, "duration", time.Since(start))
		b.send(Error{Header: hdr, Message: err.Error()})
	case in.Kind == KindCompact:
		b.send(CompactDone{Header: hdr, Summary: text})
	default:
		b.send(Response{Header: hdr, Text: text})
	}
	log.Debug("invocation finished", "duration", time.Since(start))
}

// run calls the agent, turning a panic into an error.
func (b *Boundary) run(ctx context.Context, in Inbound, emit *Emitter) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("agent panicked", "id", in.ID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return b.agent.Run(ctx, in.Request, emit)
}

// send copies out across the boundary by round-tripping it through the
// wire format.
func (b *Boundary) send(out Outbound) {
	data, err := EncodeOutbound(out)
	if err != nil {
		b.logger.Error("failed to encode envelope", "kind", out.Kind(), "error", err)
		return
	}
	cp, err := DecodeOutbound(data)
	if err != nil {
		b.logger.Error("failed to decode envelope", "kind", out.Kind(), "error", err)
		return
	}
	select {
	case b.out <- cp:
	case <-b.ctx.Done():
	}
}

// Emitter is handed to the agent to report progress for one invocation.
type Emitter struct {
	id      string
	groupID string
	send    func(Outbound)
}

// NewEmitter creates an emitter that passes envelopes to send. The boundary
// builds its own; this is for driving an Agent directly.
func NewEmitter(id, groupID string, send func(Outbound)) *Emitter {
	return &Emitter{id: id, groupID: groupID, send: send}
}

func (e *Emitter) header() Header { return Header{ID: e.id, GroupID: e.groupID} }

// Typing signals the assistant is composing.
func (e *Emitter) Typing() {
	e.send(Typing{Header: e.header()})
}

// ToolActivity reports a tool starting or finishing.
func (e *Emitter) ToolActivity(tool, status string) {
	e.send(ToolActivity{Header: e.header(), Tool: tool, Status: status})
}

// ThinkingLog records a progress line.
func (e *Emitter) ThinkingLog(entry string) {
	e.send(ThinkingLog{Header: e.header(), Entry: entry})
}

// TaskCreated asks the coordinator to persist a recurring task. An empty
// group defaults to the invocation's group.
func (e *Emitter) TaskCreated(spec TaskSpec) {
	if spec.GroupID == "" {
		spec.GroupID = e.groupID
	}
	e.send(TaskCreated{Header: e.header(), Task: spec})
}

// TokenUsage reports model usage.
func (e *Emitter) TokenUsage(provider, model string, input, output int) {
	e.send(TokenUsage{Header: e.header(), Provider: provider, Model: model, InputTokens: input, OutputTokens: output})
}
