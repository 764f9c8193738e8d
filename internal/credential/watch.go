package credential

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"antigravity2api-go/internal/constants"
)

// Watch reloads the manager whenever the credentials file changes on
// disk. Events are debounced so editors that write in several steps
// trigger a single reload. Blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: atomic saves replace the file
	// and would drop a direct watch.
	dir := filepath.Dir(m.store.Path())
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Base(m.store.Path())

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(constants.CredentialWatchDebounce, func() {
				if err := m.Reload(); err != nil {
					log.WithError(err).Warn("credentials reload failed")
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("credentials watcher error")
		}
	}
}
