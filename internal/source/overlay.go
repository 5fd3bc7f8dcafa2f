package source

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Overlay holds the text of documents open in an editor. Reads through a
// layered source see the editor text instead of the disk contents.
type Overlay struct {
	mu   sync.RWMutex
	docs map[string]document
}

type document struct {
	text string
	hash uint64
}

// NewOverlay returns an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{docs: make(map[string]document)}
}

// Set stores the text for id and reports whether it differs from what was
// stored before.
func (o *Overlay) Set(id, text string) bool {
	h := xxhash.Sum64String(text)
	o.mu.Lock()
	defer o.mu.Unlock()
	prev, ok := o.docs[id]
	o.docs[id] = document{text: text, hash: h}
	return !ok || prev.hash != h
}

// Remove forgets id.
func (o *Overlay) Remove(id string) {
	o.mu.Lock()
	delete(o.docs, id)
	o.mu.Unlock()
}

// Get returns the stored text for id.
func (o *Overlay) Get(id string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d, ok := o.docs[id]
	return d.text, ok
}

// Open returns the identities of all stored documents.
func (o *Overlay) Open() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.docs))
	for id := range o.docs {
		ids = append(ids, id)
	}
	return ids
}

// Clear forgets every document.
func (o *Overlay) Clear() {
	o.mu.Lock()
	clear(o.docs)
	o.mu.Unlock()
}

// Over layers the overlay on base: enumeration comes from base, reads
// prefer open documents.
func (o *Overlay) Over(base Source) Source {
	return layered{overlay: o, base: base}
}

type layered struct {
	overlay *Overlay
	base    Source
}

func (l layered) ListFiles(ctx context.Context) ([]string, error) {
	return l.base.ListFiles(ctx)
}

func (l layered) ReadFile(ctx context.Context, id string) (string, error) {
	if text, ok := l.overlay.Get(id); ok {
		return text, nil
	}
	return l.base.ReadFile(ctx, id)
}
