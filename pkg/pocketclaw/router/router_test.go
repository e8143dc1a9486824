package router

import (
	"context"
	"errors"
	"testing"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/channeltest"
)

func newTestRouter(t *testing.T, chans ...*channeltest.Channel) *Router {
	t.Helper()
	m := channels.NewManager(nil)
	for _, ch := range chans {
		if err := m.Register(ch); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Stop)
	return New(m, "browser", nil)
}

func TestRouter_Route(t *testing.T) {
	t.Parallel()

	r := New(channels.NewManager(nil), "browser", nil)
	tests := []struct {
		group       string
		wantChannel string
		wantChat    string
	}{
		{"tg:12345", "telegram", "12345"},
		{"dc:987", "discord", "987"},
		{"wa:5511999@s.whatsapp.net", "whatsapp", "5511999@s.whatsapp.net"},
		{"sl:C024BE91L", "slack", "C024BE91L"},
		{"br:main", "browser", "main"},
		{"main", "browser", "main"},
		{"xx:unknown", "browser", "xx:unknown"},
		{"", "browser", ""},
	}
	for _, tt := range tests {
		t.Run(tt.group, func(t *testing.T) {
			ch, chat := r.Route(tt.group)
			if ch != tt.wantChannel || chat != tt.wantChat {
				t.Errorf("Route(%q) = (%q, %q), want (%q, %q)", tt.group, ch, chat, tt.wantChannel, tt.wantChat)
			}
		})
	}
}

func TestRouter_GroupIDInvertsRoute(t *testing.T) {
	t.Parallel()

	r := New(channels.NewManager(nil), "browser", nil)
	for _, name := range []string{"telegram", "discord", "whatsapp", "slack", "browser"} {
		g := r.GroupID(name, "chat-1")
		ch, chat := r.Route(g)
		if ch != name || chat != "chat-1" {
			t.Errorf("Route(GroupID(%q)) = (%q, %q)", name, ch, chat)
		}
	}
}

func TestRouter_SendResolvesByPrefix(t *testing.T) {
	t.Parallel()

	tg := channeltest.New("telegram")
	br := channeltest.New("browser")
	r := newTestRouter(t, tg, br)

	if err := r.Send(context.Background(), "tg:12345", "hi"); err != nil {
		t.Fatal(err)
	}
	if err := r.Send(context.Background(), "br:main", "hello"); err != nil {
		t.Fatal(err)
	}

	if got := tg.Sent(); len(got) != 1 || got[0].ChatID != "12345" || got[0].Content != "hi" {
		t.Errorf("telegram sent %+v", got)
	}
	if got := br.Sent(); len(got) != 1 || got[0].ChatID != "main" {
		t.Errorf("browser sent %+v", got)
	}
}

func TestRouter_UnresolvableIsNoop(t *testing.T) {
	t.Parallel()

	dc := channeltest.Unconfigured("discord")
	r := newTestRouter(t, dc)

	if err := r.Send(context.Background(), "dc:1", "hi"); err != nil {
		t.Errorf("Send to disconnected adapter returned %v, want nil", err)
	}
	if err := r.Send(context.Background(), "sl:C1", "hi"); err != nil {
		t.Errorf("Send to unregistered adapter returned %v, want nil", err)
	}
	r.SetTyping(context.Background(), "dc:1", true)

	if len(dc.Sent()) != 0 || len(dc.Typing()) != 0 {
		t.Error("disconnected adapter should not be used")
	}
}

func TestRouter_SendPropagatesAdapterError(t *testing.T) {
	t.Parallel()

	tg := channeltest.New("telegram")
	r := newTestRouter(t, tg)
	boom := errors.New("boom")
	tg.FailSends(boom)

	if err := r.Send(context.Background(), "tg:1", "hi"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapping %v", err, boom)
	}
}

func TestRouter_SetTyping(t *testing.T) {
	t.Parallel()

	tg := channeltest.New("telegram")
	r := newTestRouter(t, tg)

	r.SetTyping(context.Background(), "tg:7", true)
	r.SetTyping(context.Background(), "tg:7", false)

	got := tg.Typing()
	if len(got) != 2 || !got[0].Typing || got[1].Typing || got[0].ChatID != "7" {
		t.Errorf("typing calls = %+v", got)
	}
}
