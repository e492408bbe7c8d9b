package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads path whenever it changes and passes the new config to onChange.
// It watches the parent directory so editors that replace the file are seen.
// Invalid files are logged and skipped. Watch returns when ctx is done.
func Watch(ctx context.Context, path string, log *zap.SugaredLogger, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				cfg, err := Load(path)
				if err != nil {
					log.Warnf("config: reload %s: %v", path, err)
					continue
				}
				log.Infof("config: reloaded %s", path)
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("config: watch: %v", err)
			}
		}
	}()
	return nil
}
