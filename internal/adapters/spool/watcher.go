// Package spool feeds a processor from NDJSON files dropped into a
// directory.
package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/perfship/internal/ports"
)

const (
	spoolExt = ".ndjson"
	doneExt  = ".done"
)

// Config configures a Watcher.
type Config struct {
	// Dir is the spool directory. Required.
	Dir string

	// DebounceDelay is how long a file must stay quiet before it is read.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// Watcher reads every *.ndjson file that appears in a directory, enqueues
// its items and renames it to *.ndjson.done.
type Watcher struct {
	dir      string
	debounce time.Duration
	enqueue  EnqueueFunc
	logger   ports.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// New creates a watcher. Run starts it.
func New(cfg Config, enqueue EnqueueFunc, logger ports.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("spool: directory is required")
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	return &Watcher{
		dir:      cfg.Dir,
		debounce: cfg.DebounceDelay,
		enqueue:  enqueue,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Run processes files already in the directory, then watches it until ctx
// is canceled. Files still waiting out their debounce are processed
// before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("spool: watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching spool directory", ports.String("dir", w.dir))

	w.scan()

	defer w.drain()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, spoolExt) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("spool watcher error", ports.Err(err))
		}
	}
}

// scan processes the files present before the watch started, oldest
// name first.
func (w *Watcher) scan() {
	matches, err := filepath.Glob(filepath.Join(w.dir, "*"+spoolExt))
	if err != nil {
		w.logger.Warn("spool scan failed", ports.Err(err))
		return
	}
	sort.Strings(matches)
	for _, path := range matches {
		w.ProcessFile(path)
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		if t.Stop() {
			w.wg.Done()
		}
	}
	w.wg.Add(1)
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ProcessFile(path)
	})
}

// drain fires every pending debounce immediately and waits for them.
func (w *Watcher) drain() {
	w.mu.Lock()
	var paths []string
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
			paths = append(paths, path)
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	sort.Strings(paths)
	for _, path := range paths {
		w.ProcessFile(path)
	}
	w.wg.Wait()
}

// ProcessFile enqueues the items of one spool file and marks it done.
// A file that fails to open is left in place.
func (w *Watcher) ProcessFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("failed to open spool file", ports.String("file", path), ports.Err(err))
		}
		return
	}
	res, decodeErr := Decode(f, w.enqueue, w.logger)
	f.Close()

	if decodeErr != nil {
		w.logger.Error("spool file partially processed",
			ports.String("file", path),
			ports.Int("accepted", res.Accepted),
			ports.Err(decodeErr),
		)
		return
	}

	if err := os.Rename(path, path+doneExt); err != nil {
		w.logger.Warn("failed to mark spool file done", ports.String("file", path), ports.Err(err))
		return
	}
	w.logger.Info("spool file processed",
		ports.String("file", filepath.Base(path)),
		ports.Int("accepted", res.Accepted),
		ports.Int("skipped", res.Skipped),
	)
}
