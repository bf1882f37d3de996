package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a config file on change and hands each valid new config
// to a callback. Invalid intermediate states (editors often truncate before
// writing) are logged and skipped; the previous config stays in effect.
type Watcher struct {
	path     string
	w        *fsnotify.Watcher
	onChange func(Config)
	logger   *zap.Logger
	stopOnce sync.Once
	done     chan struct{}
}

// Watch starts watching path and invokes onChange for every valid reload.
// The callback runs on the watcher goroutine.
func Watch(path string, onChange func(Config), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		w:        fsw,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload skipped", zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.logger.Info("config reloaded", zap.String("path", w.path))
			w.onChange(cfg)
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher. It is idempotent.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		err = w.w.Close()
		<-w.done
	})
	return err
}
