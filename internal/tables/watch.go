package tables

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher calls OnChange after the tables file settles following a write.
type Watcher struct {
	path     string
	onChange func()
	debounce time.Duration
	log      zerolog.Logger
}

func NewWatcher(path string, log zerolog.Logger, onChange func()) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
		debounce: 300 * time.Millisecond,
		log:      log,
	}
}

func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Watch blocks until ctx is cancelled. The parent directory is watched so
// editors that replace the file by rename are still seen.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	w.log.Info().Str("path", abs).Msg("tables.Watcher.Watch started")

	fired := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			evPath, err := filepath.Abs(ev.Name)
			if err != nil || evPath != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fired <- struct{}{}:
				default:
				}
			})
		case <-fired:
			w.log.Debug().Str("path", abs).Msg("tables.Watcher.Watch changed")
			w.onChange()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("tables.Watcher.Watch error")
		}
	}
}
