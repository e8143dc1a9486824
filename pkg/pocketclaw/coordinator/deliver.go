package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/events"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/router"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/scheduler"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/store"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker"
)

// handleOutbound processes one envelope from the worker. Envelopes that do
// not belong to the outstanding invocation are stale (for example the late
// answer to a timed-out request) and are dropped.
func (c *Coordinator) handleOutbound(out worker.Outbound) {
	inv := c.inflight
	if inv == nil || out.InvocationID() != inv.id {
		c.logger.Debug("dropping stale envelope", "kind", out.Kind(), "id", out.InvocationID())
		return
	}

	switch o := out.(type) {
	case worker.Typing:
		c.router.SetTyping(c.ctx, inv.groupID, true)
		c.bus.Publish(events.Typing{GroupID: inv.groupID, Typing: true})

	case worker.ToolActivity:
		c.bus.Publish(events.ToolActivity{GroupID: inv.groupID, Tool: o.Tool, Status: o.Status})

	case worker.ThinkingLog:
		c.bus.Publish(events.ThinkingLog{GroupID: inv.groupID, Entry: o.Entry})

	case worker.TokenUsage:
		c.bus.Publish(events.TokenUsage{
			GroupID:      inv.groupID,
			Provider:     o.Provider,
			Model:        o.Model,
			InputTokens:  o.InputTokens,
			OutputTokens: o.OutputTokens,
		})

	case worker.TaskCreated:
		c.createTask(o.Task)

	case worker.Response:
		c.finish()
		c.deliver(inv.groupID, o.Text)
		c.drain()

	case worker.Error:
		c.finish()
		if inv.kind == worker.KindCompact {
			c.logger.Warn("compaction failed", "group", inv.groupID, "error", o.Message)
			c.publishError(inv.groupID, "Compaction failed: "+o.Message)
			c.router.SetTyping(c.ctx, inv.groupID, false)
			c.bus.Publish(events.Typing{GroupID: inv.groupID, Typing: false})
			c.setState(StateIdle)
		} else {
			c.logger.Warn("invocation failed", "group", inv.groupID, "error", o.Message)
			c.deliver(inv.groupID, "Error: "+o.Message)
		}
		c.drain()

	case worker.CompactDone:
		c.finish()
		c.completeCompaction(inv.groupID, o.Summary)
		c.drain()

	default:
		c.logger.Warn("unhandled envelope", "kind", out.Kind())
	}
}

// finish clears the outstanding invocation.
func (c *Coordinator) finish() {
	c.stopTimer()
	c.inflight = nil
}

// expire turns a missing terminal envelope into a worker error.
func (c *Coordinator) expire(id string) {
	inv := c.inflight
	if inv == nil || inv.id != id {
		return
	}
	c.logger.Warn("invocation timed out", "id", id, "group", inv.groupID, "timeout", c.opts.InvocationTimeout)
	c.cancelWorker(id)
	c.handleOutbound(worker.Error{
		Header:  worker.Header{ID: id, GroupID: inv.groupID},
		Message: fmt.Sprintf("no reply within %s", c.opts.InvocationTimeout),
	})
}

// cancelWorker tells the worker to stop invocation id so the next one is
// not stuck behind it. Whatever the worker still emits for id is stale.
func (c *Coordinator) cancelWorker(id string) {
	ctx, cancel := context.WithTimeout(c.ctx, dispatchTimeout)
	defer cancel()
	if err := c.worker.Dispatch(ctx, worker.Inbound{Kind: worker.KindCancel, ID: id}); err != nil {
		c.logger.Warn("failed to cancel invocation", "id", id, "error", err)
	}
}

// deliver persists and routes a reply, rings the chime for scheduled
// invocations and returns to idle. It is the only path that clears
// "thinking" for invocations.
func (c *Coordinator) deliver(groupID, text string) {
	ctx := c.ctx
	c.setState(StateResponding)

	text = router.StripInternal(text)
	var reply store.Message
	if text != "" {
		reply = store.Message{
			ID:        uuid.NewString(),
			GroupID:   groupID,
			Sender:    c.settings.Current().AssistantName,
			Content:   text,
			Timestamp: c.now(),
			IsFromMe:  true,
		}
		if _, err := c.store.SaveMessage(ctx, reply); err != nil {
			c.logger.Error("failed to persist reply", "group", groupID, "error", err)
		}
		if err := c.router.Send(ctx, groupID, text); err != nil {
			c.logger.Error("failed to route reply", "group", groupID, "error", err)
			c.publishError(groupID, err.Error())
		}
	} else {
		c.logger.Info("empty reply, nothing to deliver", "group", groupID)
	}

	if _, ok := c.chimes[groupID]; ok {
		delete(c.chimes, groupID)
		c.notifier.Chime()
	}

	if text != "" {
		c.bus.Publish(events.Message{
			ID:        reply.ID,
			GroupID:   reply.GroupID,
			Sender:    reply.Sender,
			Content:   reply.Content,
			Timestamp: reply.Timestamp,
			IsFromMe:  true,
		})
	}
	c.router.SetTyping(ctx, groupID, false)
	c.bus.Publish(events.Typing{GroupID: groupID, Typing: false})
	c.setState(StateIdle)
}

// createTask persists a task the assistant asked for.
func (c *Coordinator) createTask(spec worker.TaskSpec) {
	if c.tasks == nil {
		c.publishError(spec.GroupID, "Scheduled tasks are disabled.")
		return
	}
	task, err := scheduler.NewTask(spec.GroupID, spec.Schedule, strings.TrimSpace(spec.Prompt), "agent")
	if err != nil {
		c.logger.Warn("rejecting task from assistant", "schedule", spec.Schedule, "error", err)
		c.publishError(spec.GroupID, fmt.Sprintf("Could not create scheduled task: %v", err))
		return
	}
	if err := c.tasks.SaveTask(c.ctx, task); err != nil {
		c.logger.Error("failed to save task", "error", err)
		c.publishError(spec.GroupID, fmt.Sprintf("Could not save scheduled task: %v", err))
		return
	}
	c.logger.Info("scheduled task created", "id", task.ID, "group", task.GroupID, "schedule", task.Schedule)
}
