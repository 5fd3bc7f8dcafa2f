package workspace

import (
	"context"
	"time"

	"phpscope/internal/debounce"
)

// Opened records an editor document and indexes it after the open delay.
func (e *Engine) Opened(id, text string) {
	e.overlay.Set(id, text)
	e.scheduleUpdate(id, e.debounce.Open())
}

// Changed records an edit. Rapid edits to the same file collapse into one
// re-index after the change delay. Unchanged text is ignored.
func (e *Engine) Changed(id, text string) {
	if !e.overlay.Set(id, text) {
		return
	}
	e.scheduleUpdate(id, e.debounce.Change())
}

// Saved records the saved text of an editor document and indexes it after
// the save delay.
func (e *Engine) Saved(id, text string) {
	e.overlay.Set(id, text)
	e.scheduleUpdate(id, e.debounce.Save())
}

// Touched re-reads a file that changed on disk. Files open in the editor are
// left alone: their editor text wins.
func (e *Engine) Touched(id string) {
	if _, open := e.overlay.Get(id); open {
		return
	}
	e.scheduleUpdate(id, e.debounce.Save())
}

// Closed forgets the editor text and retracts everything the file
// contributed.
func (e *Engine) Closed(id string) {
	e.retract(id)
}

// Deleted retracts everything a removed file contributed.
func (e *Engine) Deleted(id string) {
	e.retract(id)
}

func (e *Engine) retract(id string) {
	e.symbolTimers.Cancel(id)
	e.routeTimers.Cancel(id)
	e.overlay.Remove(id)
	e.forgetDocument(id)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.symbols.DeleteFile(id)
	if e.routes != nil && e.routeSrc.Contains(id) {
		e.routes.DeleteFile(id)
	}
	e.mu.Unlock()
	e.scheduleReferences()
}

// scheduleUpdate re-indexes id after delay, reading whatever text is current
// when the timer fires. A zero delay runs on the calling goroutine.
func (e *Engine) scheduleUpdate(id string, delay time.Duration) {
	run(e.symbolTimers, id, delay, func() { e.updateSymbols(id) })
	if e.routes != nil && e.routeSrc.Contains(id) {
		run(e.routeTimers, id, e.debounce.Routes(), func() { e.updateRoutes(id) })
	}
}

func run(s *debounce.Scheduler, key string, delay time.Duration, fn func()) {
	if delay <= 0 {
		s.Cancel(key)
		fn()
		return
	}
	s.Schedule(key, delay, fn)
}

func (e *Engine) updateSymbols(id string) {
	text, err := e.src.ReadFile(context.Background(), id)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.logger.Debug("file unreadable, retracting", "file", id, "error", err)
		e.symbols.DeleteFile(id)
	} else {
		e.symbols.UpdateFile(text, id)
	}
	e.mu.Unlock()
	e.scheduleReferences()
}

func (e *Engine) updateRoutes(id string) {
	text, err := e.src.ReadFile(context.Background(), id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if err != nil {
		e.routes.DeleteFile(id)
		return
	}
	e.routes.UpdateFile(text, id)
}

// scheduleReferences rebuilds the reference index once edits settle. Until
// then counts may lag behind the symbol index. An index nobody has queried
// yet is left for the first query to build.
func (e *Engine) scheduleReferences() {
	if !e.refs.Stats().Built {
		return
	}
	run(e.refTimers, "rebuild", e.debounce.References(), func() {
		if err := e.refs.EnsureBuilt(context.Background()); err != nil {
			e.logger.Warn("reference index rebuild failed", "error", err)
		}
	})
}
