// Package watch reports debounced file system changes to a set of paths.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce groups bursts of events, such as an editor's
// write-and-rename, into one change.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches files and directories.
type Watcher struct {
	debounce time.Duration
	logger   zerolog.Logger
}

// New creates a watcher.
func New(logger zerolog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		debounce: debounce,
		logger:   logger.With().Str("component", "watch").Logger(),
	}
}

// Run calls onChange after every quiet period that followed at least one
// event, until ctx is done. Files are watched through their parent
// directory so replacing a file by rename is still seen. onChange never
// runs concurrently with itself.
func (w *Watcher) Run(ctx context.Context, paths []string, onChange func(ctx context.Context)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	files, dirs := make(map[string]bool), make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		dir := abs
		if info.IsDir() {
			dirs[abs] = true
		} else {
			dir = filepath.Dir(abs)
			files[abs] = true
		}
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
	}

	w.logger.Info().Strs("paths", paths).Msg("Watching for changes")

	var (
		mu    sync.Mutex
		timer *time.Timer
		wg    sync.WaitGroup
		run   sync.Mutex
	)
	defer func() {
		mu.Lock()
		if timer != nil && timer.Stop() {
			wg.Done()
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev, files, dirs) {
				continue
			}
			w.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("Change detected")

			mu.Lock()
			if timer != nil && timer.Stop() {
				wg.Done()
			}
			wg.Add(1)
			timer = time.AfterFunc(w.debounce, func() {
				defer wg.Done()
				run.Lock()
				defer run.Unlock()
				if ctx.Err() == nil {
					onChange(ctx)
				}
			})
			mu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// relevant reports whether ev touches a watched file or happened directly
// inside a watched directory.
func relevant(ev fsnotify.Event, files, dirs map[string]bool) bool {
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) &&
		!ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Remove) {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	return files[abs] || dirs[filepath.Dir(abs)]
}
