package chat

import (
	"slices"
	"sync"

	"github.com/effective-security/mcpchat/pkg/llms"
)

// History is the append-only message log of a conversation
type History struct {
	mu       sync.RWMutex
	messages []llms.Message
}

// NewHistory returns an empty history
func NewHistory() *History {
	return &History{}
}

// Messages returns a copy of the messages
func (h *History) Messages() []llms.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.messages)
}

// Len returns the number of messages
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Add appends the messages
func (h *History) Add(msgs ...llms.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
}

// Reset drops all messages
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}
