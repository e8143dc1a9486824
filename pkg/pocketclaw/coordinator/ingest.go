package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/events"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/scheduler"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/settings"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/store"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker"
)

// SchedulerSender is the sender of the synthetic message recorded when a
// scheduled task fires.
const SchedulerSender = "Scheduler"

// dispatchTimeout bounds the hand-off to the worker's inbound queue.
const dispatchTimeout = 5 * time.Second

// Ingest persists msg, decides whether it triggers the assistant and, if so,
// queues an invocation. The message is stored before anything else happens,
// so history is complete even for messages that never trigger.
func (c *Coordinator) Ingest(ctx context.Context, msg store.Message) error {
	return c.call(ctx, func() error {
		return c.ingest(ctx, msg)
	})
}

func (c *Coordinator) ingest(ctx context.Context, msg store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = c.now()
	}
	msg.IsTrigger = c.isTrigger(c.settings.Current(), msg.GroupID, msg.Content)

	inserted, err := c.store.SaveMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("persisting message: %w", err)
	}
	if !inserted {
		c.logger.Debug("duplicate message ignored", "id", msg.ID, "group", msg.GroupID)
		return nil
	}
	c.bus.Publish(events.Message{
		ID:        msg.ID,
		GroupID:   msg.GroupID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		IsFromMe:  msg.IsFromMe,
		IsTrigger: msg.IsTrigger,
	})

	if !msg.IsTrigger {
		return nil
	}
	c.enqueue(queued{groupID: msg.GroupID, content: msg.Content})
	c.drain()
	return nil
}

// isTrigger applies the trigger policy: the default group always triggers,
// any other group only on an @mention of the assistant.
func (c *Coordinator) isTrigger(s *settings.Settings, groupID, content string) bool {
	if groupID == c.opts.DefaultGroup {
		return true
	}
	return s.Trigger().MatchString(strings.TrimSpace(content))
}

// Scheduled queues an invocation for a due scheduled task. It is the
// scheduler's trigger callback; the prompt is marked as scheduled if it is
// not already.
func (c *Coordinator) Scheduled(groupID, prompt string) {
	content := scheduler.WrapPrompt(prompt)
	c.post(func() {
		c.logger.Info("scheduled task due", "group", groupID)
		c.enqueue(queued{groupID: groupID, content: content})
		c.drain()
	})
}

// handleIncoming is the channel manager's inbound hook.
func (c *Coordinator) handleIncoming(msg *channels.IncomingMessage) {
	sender := msg.FromName
	if sender == "" {
		sender = msg.From
	}
	err := c.Ingest(c.ctx, store.Message{
		ID:        msg.ID,
		GroupID:   c.router.GroupID(msg.Channel, msg.ChatID),
		Sender:    sender,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		c.logger.Error("failed to ingest message",
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"error", err,
		)
	}
}

func (c *Coordinator) enqueue(item queued) {
	c.queue = append(c.queue, item)
	c.queueView.Store(int64(len(c.queue)))
}

// drain dispatches queued invocations until one is outstanding or the queue
// is empty. A failure before dispatch drops that item and moves on.
func (c *Coordinator) drain() {
	for c.inflight == nil && len(c.queue) > 0 {
		head := c.queue[0]
		c.queue = c.queue[1:]
		c.queueView.Store(int64(len(c.queue)))

		s := c.settings.Current()
		if !s.Configured() {
			c.logger.Warn("dropping message, provider not configured", "group", head.groupID)
			c.publishError(head.groupID, "The assistant is not configured. Run `pocketclaw setup` to choose a provider.")
			continue
		}

		if err := c.invokeAgent(head, s); err != nil {
			c.logger.Error("invocation failed before dispatch", "group", head.groupID, "error", err)
			c.publishError(head.groupID, err.Error())
			c.abandon(head.groupID)
		}
	}
}

// invokeAgent dispatches one invocation. It returns once the envelope is
// handed to the worker; the result arrives later as a terminal envelope.
func (c *Coordinator) invokeAgent(item queued, s *settings.Settings) error {
	ctx := c.ctx
	c.setState(StateThinking)
	c.router.SetTyping(ctx, item.groupID, true)
	c.bus.Publish(events.Typing{GroupID: item.groupID, Typing: true})

	if scheduler.IsScheduled(item.content) {
		synthetic := store.Message{
			ID:        uuid.NewString(),
			GroupID:   item.groupID,
			Sender:    SchedulerSender,
			Content:   item.content,
			Timestamp: c.now(),
			IsTrigger: true,
		}
		if _, err := c.store.SaveMessage(ctx, synthetic); err != nil {
			return fmt.Errorf("persisting scheduled prompt: %w", err)
		}
		c.bus.Publish(events.Message{
			ID:        synthetic.ID,
			GroupID:   synthetic.GroupID,
			Sender:    synthetic.Sender,
			Content:   synthetic.Content,
			Timestamp: synthetic.Timestamp,
			IsTrigger: true,
		})
		c.chimes[item.groupID] = struct{}{}
	}

	req, err := c.buildRequest(ctx, item.groupID, s)
	if err != nil {
		return err
	}
	return c.dispatch(worker.KindInvoke, req)
}

// dispatch sends req to the worker and records it as the outstanding
// invocation.
func (c *Coordinator) dispatch(kind worker.Kind, req worker.Request) error {
	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(c.ctx, dispatchTimeout)
	defer cancel()
	if err := c.worker.Dispatch(ctx, worker.Inbound{Kind: kind, ID: id, Request: req}); err != nil {
		return fmt.Errorf("dispatching to worker: %w", err)
	}

	inv := &invocation{id: id, groupID: req.GroupID, kind: kind}
	if d := c.opts.InvocationTimeout; d > 0 {
		inv.timer = time.AfterFunc(d, func() {
			c.post(func() { c.expire(id) })
		})
	}
	c.inflight = inv
	c.logger.Debug("invocation dispatched", "id", id, "kind", kind, "group", req.GroupID, "messages", len(req.Messages))
	return nil
}

// abandon undoes the visible side effects of an invocation that never
// reached the worker.
func (c *Coordinator) abandon(groupID string) {
	delete(c.chimes, groupID)
	c.router.SetTyping(c.ctx, groupID, false)
	c.bus.Publish(events.Typing{GroupID: groupID, Typing: false})
	c.setState(StateIdle)
}
