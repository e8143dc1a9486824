// Package router maps group identifiers to channel adapters and routes
// outbound replies and typing indicators to them.
//
// A group ID is "<prefix><chat id>". The prefix selects the adapter; a group
// ID with the built-in prefix, or with no known prefix at all, belongs to the
// built-in channel.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
)

// BuiltinPrefix marks group IDs owned by the built-in channel.
const BuiltinPrefix = "br:"

// Route binds a group ID prefix to a channel name.
type Route struct {
	Prefix  string
	Channel string
}

// DefaultRoutes is the fixed, ordered prefix table for the optional adapters.
var DefaultRoutes = []Route{
	{Prefix: "tg:", Channel: "telegram"},
	{Prefix: "dc:", Channel: "discord"},
	{Prefix: "wa:", Channel: "whatsapp"},
	{Prefix: "sl:", Channel: "slack"},
}

// Lookup finds registered adapters by name. *channels.Manager implements it.
type Lookup interface {
	Channel(name string) (channels.Channel, bool)
}

// Router resolves group IDs to adapters.
type Router struct {
	lookup  Lookup
	routes  []Route
	builtin string
	logger  *slog.Logger
}

// New creates a router over the default prefix table. builtin names the
// channel that owns "br:" and unprefixed group IDs.
func New(lookup Lookup, builtin string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		lookup:  lookup,
		routes:  DefaultRoutes,
		builtin: builtin,
		logger:  logger.With("component", "router"),
	}
}

// Route returns the channel name and platform chat ID for a group ID. It
// depends only on the prefix and never fails.
func (r *Router) Route(groupID string) (channel, chatID string) {
	for _, rt := range r.routes {
		if strings.HasPrefix(groupID, rt.Prefix) {
			return rt.Channel, strings.TrimPrefix(groupID, rt.Prefix)
		}
	}
	return r.builtin, strings.TrimPrefix(groupID, BuiltinPrefix)
}

// GroupID is the inverse of Route: it builds the group ID for a chat on a
// channel.
func (r *Router) GroupID(channel, chatID string) string {
	for _, rt := range r.routes {
		if rt.Channel == channel {
			return rt.Prefix + chatID
		}
	}
	return BuiltinPrefix + chatID
}

// Resolve returns the connected adapter owning groupID.
func (r *Router) Resolve(groupID string) (channels.Channel, string, bool) {
	name, chatID := r.Route(groupID)
	ch, ok := r.lookup.Channel(name)
	if !ok || !ch.IsConnected() {
		return nil, "", false
	}
	return ch, chatID, true
}

// Send delivers text to the group's adapter. An unresolvable group is
// logged and skipped; only a failing adapter returns an error.
func (r *Router) Send(ctx context.Context, groupID, text string) error {
	ch, chatID, ok := r.Resolve(groupID)
	if !ok {
		r.logger.Warn("no channel for group, reply not routed", "group", groupID)
		return nil
	}
	if err := ch.Send(ctx, chatID, &channels.OutgoingMessage{Content: text}); err != nil {
		return fmt.Errorf("send to %s: %w", ch.Name(), err)
	}
	return nil
}

// SetTyping toggles the typing indicator if the group's adapter supports it.
// Failures are logged; typing is cosmetic.
func (r *Router) SetTyping(ctx context.Context, groupID string, typing bool) {
	ch, chatID, ok := r.Resolve(groupID)
	if !ok {
		r.logger.Debug("no channel for group, typing not routed", "group", groupID)
		return
	}
	pc, ok := ch.(channels.PresenceChannel)
	if !ok {
		return
	}
	if err := pc.SetTyping(ctx, chatID, typing); err != nil {
		r.logger.Warn("failed to set typing", "channel", ch.Name(), "group", groupID, "error", err)
	}
}
