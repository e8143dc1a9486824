package slack

import (
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"
)

func TestToIncoming(t *testing.T) {
	t.Parallel()

	s := New(Config{BotToken: "xoxb", AppToken: "xapp", MentionName: "Andy"}, nil)
	s.botUserID = "UBOT"

	tests := []struct {
		name string
		ev   slackevents.MessageEvent
		want string
	}{
		{"plain", slackevents.MessageEvent{User: "U1", Channel: "C1", Text: "hello", TimeStamp: "1700000000.000100"}, "hello"},
		{"mention rewritten", slackevents.MessageEvent{User: "U1", Channel: "C1", Text: "<@UBOT> ping", TimeStamp: "1700000000.000200"}, "@Andy ping"},
		{"bot message", slackevents.MessageEvent{User: "U1", BotID: "B1", Channel: "C1", Text: "x"}, ""},
		{"edit", slackevents.MessageEvent{User: "U1", SubType: "message_changed", Channel: "C1", Text: "x"}, ""},
		{"own message", slackevents.MessageEvent{User: "UBOT", Channel: "C1", Text: "x"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev := tt.ev
			got := s.toIncoming(&ev)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil || got.Content != tt.want || got.ChatID != "C1" || got.Channel != "slack" {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestParseTS(t *testing.T) {
	t.Parallel()

	got := parseTS("1700000000.123456")
	if got.Unix() != 1700000000 {
		t.Errorf("seconds = %d", got.Unix())
	}
	if d := got.Sub(time.Unix(1700000000, 123456000)); d > time.Microsecond || d < -time.Microsecond {
		t.Errorf("parseTS off by %v", d)
	}
}

func TestIsConfigured(t *testing.T) {
	t.Parallel()

	if New(Config{BotToken: "xoxb"}, nil).IsConfigured() {
		t.Error("app token is required")
	}
	if !New(Config{BotToken: "xoxb", AppToken: "xapp"}, nil).IsConfigured() {
		t.Error("both tokens set should be configured")
	}
}
