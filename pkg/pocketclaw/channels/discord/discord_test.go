package discord

import "testing"

func TestRewriteMention(t *testing.T) {
	t.Parallel()

	tests := []struct {
		content, botID, name, want string
	}{
		{"<@42> hi", "42", "Andy", "@Andy hi"},
		{"hey <@!42>", "42", "Andy", "hey @Andy"},
		{"<@7> not me", "42", "Andy", "<@7> not me"},
		{"<@42> hi", "", "Andy", "<@42> hi"},
		{"<@42> hi", "42", "", "<@42> hi"},
	}
	for _, tt := range tests {
		if got := rewriteMention(tt.content, tt.botID, tt.name); got != tt.want {
			t.Errorf("rewriteMention(%q, %q, %q) = %q, want %q", tt.content, tt.botID, tt.name, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	d := New(Config{}, nil)
	if d.IsConfigured() || d.IsConnected() {
		t.Error("empty config should be unconfigured and disconnected")
	}
	if err := d.Disconnect(); err != nil {
		t.Errorf("Disconnect on idle channel: %v", err)
	}
}
