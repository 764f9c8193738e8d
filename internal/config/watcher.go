package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch reloads the config file on change and invokes onReload with the new
// value. Reload failures keep the previous configuration. The watcher stops
// when ctx is cancelled.
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	if path == "" || onReload == nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var mu sync.Mutex
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(300*time.Millisecond, func() {
					cfg, err := Load(path)
					if err != nil {
						log.WithError(err).Warn("config reload failed, keeping previous configuration")
						return
					}
					log.WithField("path", path).Info("configuration reloaded")
					onReload(cfg)
				})
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")
			}
		}
	}()
	return nil
}
