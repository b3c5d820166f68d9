// Package ocr runs external OCR engines behind a provider abstraction and
// sequences them into a confidence-gated fallback chain.
package ocr

import (
	"context"
	"sync"

	"github.com/fatura-ai/invoice-extractor/internal/invoice"
)

// Provider is the capability contract every OCR engine satisfies. Extract
// may fail with an engine-specific error; confidence is always in [0,1].
type Provider interface {
	Name() string
	Extract(ctx context.Context, path, lang string) (invoice.OCRResult, error)
}

// engineCache holds constructed engine handles keyed by language. Engines
// carry verified language packs / warmed models, so a build race must not
// construct the same handle twice.
type engineCache[T any] struct {
	mu sync.RWMutex
	m  map[string]T
}

func newEngineCache[T any]() *engineCache[T] {
	return &engineCache[T]{m: make(map[string]T)}
}

// get returns the cached handle for lang, building it under the write lock
// when absent. Concurrent readers share the read lock on the fast path.
func (c *engineCache[T]) get(lang string, build func() (T, error)) (T, error) {
	c.mu.RLock()
	if eng, ok := c.m[lang]; ok {
		c.mu.RUnlock()
		return eng, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if eng, ok := c.m[lang]; ok { // lost the race to another builder
		return eng, nil
	}
	eng, err := build()
	if err != nil {
		var zero T
		return zero, err
	}
	c.m[lang] = eng
	return eng, nil
}
