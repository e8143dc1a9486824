package coordinator

import (
	"io"
	"sync"
)

// Notifier plays the completion chime for scheduled invocations.
type Notifier interface {
	Chime()
}

// NopNotifier does nothing.
type NopNotifier struct{}

func (NopNotifier) Chime() {}

// BellNotifier rings the terminal bell on W.
type BellNotifier struct {
	mu sync.Mutex
	W  io.Writer
}

func (b *BellNotifier) Chime() {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _ = io.WriteString(b.W, "\a")
}
