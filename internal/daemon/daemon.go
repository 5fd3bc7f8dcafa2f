// Package daemon keeps a workspace engine current while files change on
// disk. It watches the workspace tree and turns file system events into
// engine events; the engine's own debouncing coalesces bursts.
package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"phpscope/internal/source"
	"phpscope/internal/workspace"
)

// maxWatches limits directory watches to prevent file descriptor exhaustion
const maxWatches = 4000

// Daemon watches one workspace root.
type Daemon struct {
	engine    *workspace.Engine
	fs        *source.FS
	watcher   *fsnotify.Watcher
	logger    *slog.Logger
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	limitReached bool
}

// Status represents the current state of the daemon
type Status struct {
	Running   bool            `json:"running"`
	PID       int             `json:"pid"`
	Root      string          `json:"root"`
	StartedAt time.Time       `json:"started_at"`
	Watches   int             `json:"watches"`
	Index     workspace.Stats `json:"index"`
}

// DefaultSocketPath returns the per-user, per-root socket path.
func DefaultSocketPath(root string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("phpscope-%d-%x.sock", os.Getuid(), xxhash.Sum64String(root)))
}

// New creates a daemon over engine. fsys supplies the root and the
// include and exclude filters.
func New(engine *workspace.Engine, fsys *source.FS, logger *slog.Logger) (*Daemon, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		engine:    engine,
		fs:        fsys,
		watcher:   watcher,
		logger:    logger,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start adds the watches and begins handling events.
func (d *Daemon) Start() error {
	if err := d.watchTree(d.fs.Root()); err != nil {
		return err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.watcherLoop()
	}()
	d.logger.Info("watching workspace", "root", d.fs.Root(), "watches", len(d.watcher.WatchList()))
	return nil
}

// Run starts the daemon, serves IPC on socketPath when it is not empty, and
// blocks until a signal arrives, Stop is called or ctx ends.
func (d *Daemon) Run(ctx context.Context, socketPath string) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	if err := d.Start(); err != nil {
		return err
	}
	defer d.Close()

	if socketPath != "" {
		ipcServer, err := NewIPCServer(socketPath, d)
		if err != nil {
			return fmt.Errorf("failed to start IPC server: %w", err)
		}
		defer ipcServer.Close()
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ipcServer.Serve(d.ctx)
		}()
	}

	select {
	case sig := <-sigChan:
		d.logger.Info("received signal", "signal", sig)
	case <-ctx.Done():
	case <-d.ctx.Done():
	}
	d.logger.Info("daemon shutting down")
	return nil
}

// Stop signals the daemon to shut down
func (d *Daemon) Stop() {
	d.cancel()
}

// Close stops watching and waits for the event loop to exit. The engine is
// left open.
func (d *Daemon) Close() {
	d.cancel()
	d.watcher.Close()
	d.wg.Wait()
}

// Engine returns the watched engine.
func (d *Daemon) Engine() *workspace.Engine { return d.engine }

// Status returns the current daemon status
func (d *Daemon) Status() Status {
	return Status{
		Running:   d.ctx.Err() == nil,
		PID:       os.Getpid(),
		Root:      d.fs.Root(),
		StartedAt: d.startedAt,
		Watches:   len(d.watcher.WatchList()),
		Index:     d.engine.Stats(),
	}
}

// watchTree adds watches for dir and every directory below it that the
// workspace filters keep.
func (d *Daemon) watchTree(dir string) error {
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return nil // Skip errors
		}
		if rel, ok := d.fs.Rel(path); ok && d.fs.SkipDir(rel) {
			return filepath.SkipDir
		}
		d.mu.Lock()
		full := len(d.watcher.WatchList()) >= maxWatches
		if full && !d.limitReached {
			d.logger.Warn("reached max watches limit", "limit", maxWatches)
			d.limitReached = true
		}
		d.mu.Unlock()
		if full {
			return filepath.SkipDir
		}
		if err := d.watcher.Add(path); err != nil {
			d.logger.Debug("watch failed", "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	return nil
}

// watcherLoop handles fsnotify events
func (d *Daemon) watcherLoop() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("watcher error", "error", err)
		}
	}
}

// handleEvent maps one file system event onto the engine.
func (d *Daemon) handleEvent(event fsnotify.Event) {
	id, ok := d.fs.Rel(event.Name)
	if !ok {
		return
	}

	// New directories get watched, and files moved in with them indexed.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if d.fs.SkipDir(id) {
				return
			}
			if err := d.watchTree(event.Name); err != nil {
				d.logger.Warn("failed to watch new directory", "path", id, "error", err)
			}
			d.touchTree(event.Name)
			return
		}
	}

	if !d.fs.Match(id) {
		return
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		d.logger.Debug("file removed", "file", id)
		d.engine.Deleted(id)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		d.logger.Debug("file changed", "file", id)
		d.engine.Touched(id)
	}
}

func (d *Daemon) touchTree(dir string) {
	filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		id, ok := d.fs.Rel(path)
		if !ok {
			return nil
		}
		if entry.IsDir() {
			if d.fs.SkipDir(id) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.fs.Match(id) {
			d.engine.Touched(id)
		}
		return nil
	})
}
