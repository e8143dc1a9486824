package telegram

import (
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestToIncoming(t *testing.T) {
	t.Parallel()

	sent := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		update tgbotapi.Update
		want   string // content, empty for nil
		sender string
	}{
		{
			name: "text message",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				MessageID: 7,
				From:      &tgbotapi.User{ID: 99, FirstName: "Maria", UserName: "maria_s"},
				Chat:      &tgbotapi.Chat{ID: -100123},
				Date:      int(sent.Unix()),
				Text:      "@Andy hello",
			}},
			want:   "@Andy hello",
			sender: "Maria",
		},
		{
			name: "username fallback",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				MessageID: 8,
				From:      &tgbotapi.User{ID: 5, UserName: "bob"},
				Chat:      &tgbotapi.Chat{ID: 5},
				Text:      "hi",
			}},
			want:   "hi",
			sender: "bob",
		},
		{
			name: "from a bot",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				From: &tgbotapi.User{ID: 1, IsBot: true},
				Chat: &tgbotapi.Chat{ID: 1},
				Text: "beep",
			}},
		},
		{
			name:   "no message",
			update: tgbotapi.Update{},
		},
		{
			name: "no text",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				From: &tgbotapi.User{ID: 1},
				Chat: &tgbotapi.Chat{ID: 1},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := toIncoming(tt.update)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected a message")
			}
			if got.Content != tt.want || got.FromName != tt.sender || got.Channel != "telegram" {
				t.Errorf("got %+v", got)
			}
		})
	}

	first := toIncoming(tests[0].update)
	if first.ChatID != "-100123" || first.ID != "-100123:7" || !first.Timestamp.Equal(sent) {
		t.Errorf("ids/timestamp = %q %q %v", first.ChatID, first.ID, first.Timestamp)
	}
}

func TestNotConfigured(t *testing.T) {
	t.Parallel()

	tg := New(Config{}, nil)
	if tg.IsConfigured() {
		t.Error("empty token should not be configured")
	}
	if tg.Name() != "telegram" {
		t.Errorf("Name = %q", tg.Name())
	}
}
