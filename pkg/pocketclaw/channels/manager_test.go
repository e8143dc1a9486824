package channels_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/channeltest"
)

func TestManager_StartSkipsUnconfigured(t *testing.T) {
	t.Parallel()

	m := channels.NewManager(nil)
	tg := channeltest.New("telegram")
	dc := channeltest.Unconfigured("discord")
	for _, ch := range []channels.Channel{tg, dc} {
		if err := m.Register(ch); err != nil {
			t.Fatalf("Register(%s): %v", ch.Name(), err)
		}
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if !tg.IsConnected() {
		t.Error("configured channel should be connected")
	}
	if dc.IsConnected() {
		t.Error("unconfigured channel should not be connected")
	}
	if got, want := m.Names(), []string{"discord", "telegram"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestManager_RegisterDuplicate(t *testing.T) {
	t.Parallel()

	m := channels.NewManager(nil)
	if err := m.Register(channeltest.New("browser")); err != nil {
		t.Fatal(err)
	}
	if err := m.Register(channeltest.New("browser")); err == nil {
		t.Error("expected error registering the same name twice")
	}
}

func TestManager_PumpsInboundToHandler(t *testing.T) {
	t.Parallel()

	m := channels.NewManager(nil)
	tg := channeltest.New("telegram")
	_ = m.Register(tg)

	got := make(chan *channels.IncomingMessage, 1)
	m.OnMessage(func(msg *channels.IncomingMessage) { got <- msg })

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	tg.Inject("42", "alice", "hello")

	select {
	case msg := <-got:
		if msg.Channel != "telegram" || msg.ChatID != "42" || msg.Content != "hello" {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}
}

func TestManager_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	m := channels.NewManager(nil)
	ch := channeltest.New("browser")
	_ = m.Register(ch)
	_ = m.Start(context.Background())

	m.Stop()
	m.Stop()

	if ch.IsConnected() {
		t.Error("channel still connected after Stop")
	}
}
