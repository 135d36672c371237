package docstore

import (
	"context"
	"strings"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type inMemory struct {
	mu   sync.RWMutex
	docs *orderedmap.OrderedMap[string, string]
}

// NewMemoryStore returns an in-memory store with the documents
func NewMemoryStore(docs ...Document) Store {
	m := &inMemory{
		docs: orderedmap.New[string, string](),
	}
	for _, d := range docs {
		m.docs.Set(d.ID, d.Content)
	}
	return m
}

// NewDefaultStore returns an in-memory store seeded with DefaultDocuments
func NewDefaultStore() Store {
	return NewMemoryStore(DefaultDocuments()...)
}

func (m *inMemory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, m.docs.Len())
	for pair := m.docs.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids, nil
}

func (m *inMemory) Read(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.docs.Get(id)
	if !ok {
		return "", notFound(id)
	}
	return content, nil
}

func (m *inMemory) Edit(_ context.Context, id, oldStr, newStr string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok := m.docs.Get(id)
	if !ok {
		return "", notFound(id)
	}
	content = Replace(content, oldStr, newStr)
	m.docs.Set(id, content)
	return content, nil
}

// Replace replaces all occurrences of oldStr,
// an empty oldStr leaves the content unchanged
func Replace(content, oldStr, newStr string) string {
	if oldStr == "" {
		return content
	}
	return strings.ReplaceAll(content, oldStr, newStr)
}
