package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/events"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/router"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/store"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker"
)

// SummarySender is the sender of the message that replaces a compacted
// history.
const SummarySender = "Summary"

// Compact asks the worker to summarize the group's history and replaces the
// history with that summary. It fails without side effects unless the
// assistant is configured and idle.
func (c *Coordinator) Compact(ctx context.Context, groupID string) error {
	return c.call(ctx, func() error {
		s := c.settings.Current()
		if !s.Configured() {
			c.publishError(groupID, "Cannot compact: the assistant is not configured.")
			return ErrNotConfigured
		}
		if c.state != StateIdle || c.inflight != nil {
			c.publishError(groupID, "Cannot compact while the assistant is busy.")
			return ErrBusy
		}

		req, err := c.buildCompactRequest(c.ctx, groupID, s)
		if err != nil {
			c.publishError(groupID, err.Error())
			return err
		}
		if len(req.Messages) == 0 {
			c.publishError(groupID, "Nothing to compact.")
			return fmt.Errorf("nothing to compact in %s", groupID)
		}
		if err := c.dispatch(worker.KindCompact, req); err != nil {
			c.publishError(groupID, err.Error())
			return err
		}
		c.setState(StateThinking)
		c.router.SetTyping(c.ctx, groupID, true)
		c.bus.Publish(events.Typing{GroupID: groupID, Typing: true})
		c.logger.Info("compaction started", "group", groupID)
		return nil
	})
}

func (c *Coordinator) completeCompaction(groupID, summary string) {
	defer func() {
		c.router.SetTyping(c.ctx, groupID, false)
		c.bus.Publish(events.Typing{GroupID: groupID, Typing: false})
		c.setState(StateIdle)
	}()

	summary = strings.TrimSpace(router.StripInternal(summary))
	if summary == "" {
		c.publishError(groupID, "Compaction produced an empty summary; history kept.")
		return
	}

	msg := store.Message{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Sender:    SummarySender,
		Content:   "Summary of the earlier conversation:\n\n" + summary,
		Timestamp: c.now(),
	}
	if err := c.store.ReplaceGroupMessages(c.ctx, groupID, []store.Message{msg}); err != nil {
		c.logger.Error("failed to replace history", "group", groupID, "error", err)
		c.publishError(groupID, fmt.Sprintf("Compaction failed: %v", err))
		return
	}
	c.logger.Info("history compacted", "group", groupID)
	c.bus.Publish(events.ContextCompacted{GroupID: groupID, Summary: summary})
}

// NewSession clears the group's history. Configuration and scheduled tasks
// are left alone.
func (c *Coordinator) NewSession(ctx context.Context, groupID string) error {
	return c.call(ctx, func() error {
		if err := c.store.ClearGroupMessages(ctx, groupID); err != nil {
			return fmt.Errorf("clearing history: %w", err)
		}
		c.logger.Info("session reset", "group", groupID)
		c.bus.Publish(events.SessionReset{GroupID: groupID})
		return nil
	})
}
