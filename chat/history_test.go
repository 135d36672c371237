package chat

import (
	"sync"
	"testing"

	"github.com/effective-security/mcpchat/pkg/llms"
	"github.com/stretchr/testify/assert"
)

func TestHistory(t *testing.T) {
	h := NewHistory()
	assert.Empty(t, h.Messages())
	assert.Equal(t, 0, h.Len())

	h.Add(llms.MessageFromTextParts(llms.RoleUser, "hello"))
	h.Add(llms.MessageFromTextParts(llms.RoleAssistant, "hi"), llms.MessageFromTextParts(llms.RoleUser, "bye"))
	assert.Equal(t, 3, h.Len())

	msgs := h.Messages()
	assert.Equal(t, "hi", msgs[1].Text())

	// the copy does not alias the history
	msgs[0] = llms.MessageFromTextParts(llms.RoleSystem, "changed")
	assert.Equal(t, "hello", h.Messages()[0].Text())

	h.Reset()
	assert.Equal(t, 0, h.Len())
}

func TestHistoryConcurrent(t *testing.T) {
	h := NewHistory()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Add(llms.MessageFromTextParts(llms.RoleUser, "x"))
			_ = h.Messages()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, h.Len())
}
