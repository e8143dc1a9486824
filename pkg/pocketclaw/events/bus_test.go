package events

import (
	"reflect"
	"testing"
)

func TestBus_DeliversOnlyMatchingKind(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	var typing, errs int
	bus.Subscribe(KindTyping, func(Event) { typing++ })
	bus.Subscribe(KindError, func(Event) { errs++ })

	bus.Publish(Typing{GroupID: "br:main", Typing: true})
	bus.Publish(Typing{GroupID: "br:main", Typing: false})
	bus.Publish(Ready{})

	if typing != 2 {
		t.Errorf("typing handler called %d times, want 2", typing)
	}
	if errs != 0 {
		t.Errorf("error handler called %d times, want 0", errs)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	var calls int
	sub := bus.Subscribe(KindReady, func(Event) { calls++ })

	bus.Publish(Ready{})
	bus.Unsubscribe(sub)
	bus.Publish(Ready{})
	bus.Unsubscribe(sub)
	bus.Unsubscribe(Subscription{})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	var got []string
	bus.Subscribe(KindError, func(Event) { got = append(got, "first") })
	bus.Subscribe(KindError, func(Event) { panic("boom") })
	bus.Subscribe(KindError, func(Event) { got = append(got, "third") })

	bus.Publish(Error{Message: "x"})

	want := []string{"first", "third"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBus_ReentrantPublishIsDepthFirst(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	var order []string

	bus.Subscribe(KindMessage, func(Event) {
		order = append(order, "message:1")
		bus.Publish(Typing{Typing: false})
		order = append(order, "message:1:after")
	})
	bus.Subscribe(KindMessage, func(Event) { order = append(order, "message:2") })
	bus.Subscribe(KindTyping, func(Event) { order = append(order, "typing") })

	bus.Publish(Message{Content: "hi"})

	want := []string{"message:1", "typing", "message:1:after", "message:2"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestBus_HandlerAddedDuringPublishSeesOnlyLaterEvents(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	var late int
	bus.Subscribe(KindReady, func(Event) {
		bus.Subscribe(KindReady, func(Event) { late++ })
	})

	bus.Publish(Ready{})
	if late != 0 {
		t.Fatalf("late handler ran for the event that registered it")
	}
	bus.Publish(Ready{})
	if late != 1 {
		t.Errorf("late = %d, want 1", late)
	}
}

func TestOn_TypedPayload(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	var got TokenUsage
	On(bus, func(u TokenUsage) { got = u })

	bus.Publish(TokenUsage{GroupID: "tg:1", InputTokens: 10, OutputTokens: 3})

	if got.GroupID != "tg:1" || got.InputTokens != 10 || got.OutputTokens != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	t.Parallel()

	bus := NewBus(nil)
	var kinds []Kind
	sub := bus.SubscribeAll(func(ev Event) { kinds = append(kinds, ev.Kind()) })

	bus.Publish(Ready{})
	bus.Publish(SessionReset{GroupID: "br:main"})
	bus.Unsubscribe(sub)
	bus.Publish(Ready{})

	want := []Kind{KindReady, KindSessionReset}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}
