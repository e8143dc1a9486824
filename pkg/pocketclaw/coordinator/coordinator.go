// Package coordinator is the central dispatcher. It ingests inbound
// messages, applies the trigger policy, keeps the FIFO queue of pending
// invocations, guarantees at most one live invocation, exchanges envelopes
// with the worker boundary and delivers replies through the router.
//
// All coordinator state is owned by a single goroutine (the actor loop).
// Public methods post closures to it; nothing else touches the queue, the
// state value or the pending-chime set.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/events"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/scheduler"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/settings"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/store"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker"
)

// State is the coordinator state machine value.
type State string

const (
	StateIdle       State = "idle"
	StateThinking   State = "thinking"
	StateResponding State = "responding"
)

var (
	// ErrNotConfigured is returned when no model provider is usable.
	ErrNotConfigured = errors.New("assistant is not configured")

	// ErrBusy is returned by Compact while an invocation is outstanding.
	ErrBusy = errors.New("assistant is busy")

	// ErrStopped is returned once the coordinator has shut down.
	ErrStopped = errors.New("coordinator stopped")
)

// Store is the persistence the coordinator needs.
type Store interface {
	SaveMessage(ctx context.Context, msg store.Message) (bool, error)
	RecentMessages(ctx context.Context, groupID string, limit int) ([]store.Message, error)
	ClearGroupMessages(ctx context.Context, groupID string) error
	ReplaceGroupMessages(ctx context.Context, groupID string, msgs []store.Message) error
	Memory(ctx context.Context) (string, error)
	EnabledSkills(ctx context.Context) ([]store.Skill, error)
}

// Router delivers replies and typing indicators. *router.Router implements it.
type Router interface {
	Send(ctx context.Context, groupID, text string) error
	SetTyping(ctx context.Context, groupID string, typing bool)
	GroupID(channel, chatID string) string
}

// Channels is the adapter registry. *channels.Manager implements it.
type Channels interface {
	OnMessage(fn channels.MessageHandler)
	Start(ctx context.Context) error
	Stop()
}

// Worker is the coordinator side of the worker boundary. *worker.Boundary
// implements it.
type Worker interface {
	Start()
	Dispatch(ctx context.Context, in worker.Inbound) error
	Outbound() <-chan worker.Outbound
	Close() error
}

// SettingsSource returns the current configuration snapshot.
// *settings.Manager implements it.
type SettingsSource interface {
	Current() *settings.Settings
}

// Options tunes the coordinator.
type Options struct {
	// DefaultGroup always triggers. Defaults to "br:main".
	DefaultGroup string

	// HistoryWindow is how many recent messages are sent as context.
	HistoryWindow int

	// InvocationTimeout bounds the wait for a terminal envelope. Zero
	// disables the timeout.
	InvocationTimeout time.Duration

	// TickInterval is the scheduler tick. Zero uses the scheduler default.
	TickInterval time.Duration
}

// Deps are the coordinator's collaborators. Tasks may be nil, which
// disables the scheduler and agent-created tasks.
type Deps struct {
	Store    Store
	Tasks    scheduler.Storage
	Settings SettingsSource
	Router   Router
	Channels Channels
	Worker   Worker
	Bus      *events.Bus
	Notifier Notifier
	Logger   *slog.Logger
}

// queued is a pending invocation.
type queued struct {
	groupID string
	content string
}

// invocation is the one outstanding worker request.
type invocation struct {
	id      string
	groupID string
	kind    worker.Kind
	timer   *time.Timer
}

// Coordinator is the central state machine.
type Coordinator struct {
	opts     Options
	store    Store
	tasks    scheduler.Storage
	settings SettingsSource
	router   Router
	channels Channels
	worker   Worker
	bus      *events.Bus
	notifier Notifier
	sched    *scheduler.Scheduler
	logger   *slog.Logger
	now      func() time.Time

	ops      chan func()
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	// Owned by the actor loop.
	state    State
	queue    []queued
	inflight *invocation
	chimes   map[string]struct{}

	// Mirrors for readers outside the loop.
	stateView atomic.Value
	queueView atomic.Int64
}

// New creates a coordinator. Start must be called before it does anything.
func New(opts Options, deps Deps) *Coordinator {
	if opts.DefaultGroup == "" {
		opts.DefaultGroup = "br:main"
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 50
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	c := &Coordinator{
		opts:     opts,
		store:    deps.Store,
		tasks:    deps.Tasks,
		settings: deps.Settings,
		router:   deps.Router,
		channels: deps.Channels,
		worker:   deps.Worker,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With("component", "coordinator"),
		now:      time.Now,
		ops:      make(chan func(), 64),
		done:     make(chan struct{}),
		state:    StateIdle,
		chimes:   make(map[string]struct{}),
	}
	c.stateView.Store(StateIdle)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if deps.Tasks != nil {
		var sopts []scheduler.Option
		if opts.TickInterval > 0 {
			sopts = append(sopts, scheduler.WithTickInterval(opts.TickInterval))
		}
		c.sched = scheduler.New(deps.Tasks, c.Scheduled, logger, sopts...)
	}
	return c
}

// Bus returns the event bus observers subscribe to.
func (c *Coordinator) Bus() *events.Bus { return c.bus }

// Start runs the actor loop, connects the channels, starts the scheduler
// and publishes Ready.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	c.worker.Start()
	go c.loop(c.worker.Outbound())

	if c.channels != nil {
		c.channels.OnMessage(c.handleIncoming)
		if err := c.channels.Start(ctx); err != nil {
			return fmt.Errorf("starting channels: %w", err)
		}
	}
	if c.sched != nil {
		if err := c.sched.Start(c.ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}

	c.post(func() {
		c.logger.Info("coordinator ready", "default_group", c.opts.DefaultGroup)
		c.bus.Publish(events.Ready{})
	})
	return nil
}

// Shutdown stops the scheduler, the channels and the worker. In-flight
// invocations are abandoned.
func (c *Coordinator) Shutdown() {
	c.stopOnce.Do(func() {
		if c.sched != nil {
			c.sched.Stop()
		}
		if c.channels != nil {
			c.channels.Stop()
		}
		if err := c.worker.Close(); err != nil {
			c.logger.Warn("closing worker", "error", err)
		}
		c.cancel()
		if c.started.Load() {
			<-c.done
		}
		c.logger.Info("coordinator stopped")
	})
}

// State returns the current state.
func (c *Coordinator) State() State {
	return c.stateView.Load().(State)
}

// QueueLen returns the number of pending invocations.
func (c *Coordinator) QueueLen() int {
	return int(c.queueView.Load())
}

func (c *Coordinator) loop(outbound <-chan worker.Outbound) {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.stopTimer()
			return
		case fn := <-c.ops:
			fn()
		case out, ok := <-outbound:
			if !ok {
				outbound = nil
				continue
			}
			c.handleOutbound(out)
		}
	}
}

// post queues fn for the actor loop without waiting.
func (c *Coordinator) post(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.ctx.Done():
	}
}

// call runs fn on the actor loop and waits for its result.
func (c *Coordinator) call(ctx context.Context, fn func() error) error {
	if !c.started.Load() {
		return ErrStopped
	}
	res := make(chan error, 1)
	select {
	case c.ops <- func() { res <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrStopped
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrStopped
	}
}

func (c *Coordinator) setState(s State) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	c.stateView.Store(s)
	c.bus.Publish(events.StateChanged{State: string(s), Previous: string(prev)})
}

func (c *Coordinator) publishError(groupID, msg string) {
	c.bus.Publish(events.Error{GroupID: groupID, Message: msg})
}

func (c *Coordinator) stopTimer() {
	if c.inflight != nil && c.inflight.timer != nil {
		c.inflight.timer.Stop()
	}
}
