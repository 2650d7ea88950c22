package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"dirbrowse/host"
	"dirbrowse/session"
)

// watcher refreshes the listing when the directory on screen changes on
// disk. Only directories backed by the OS filesystem can be watched.
type watcher struct {
	fsw      *fsnotify.Watcher
	ctrl     *session.Controller
	local    *host.Local
	debounce time.Duration
	logger   *zap.Logger

	kick    chan struct{}
	mu      sync.Mutex
	watched string

	cancel context.CancelFunc
	done   chan struct{}
}

func newWatcher(ctrl *session.Controller, local *host.Local, debounce time.Duration, logger *zap.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		fsw:      fsw,
		ctrl:     ctrl,
		local:    local,
		debounce: debounce,
		logger:   logger,
		kick:     make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.loop(ctx)
	return w, nil
}

// follow asks the loop to re-check which directory is on screen. It never
// blocks.
func (w *watcher) follow() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// rewatch moves the watch to the current directory, if it changed.
func (w *watcher) rewatch() {
	path := ""
	if dir, ok := w.ctrl.Current(); ok {
		if p, ok := w.local.LocalPath(dir); ok {
			path = p
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if path == w.watched {
		return
	}
	if w.watched != "" {
		if err := w.fsw.Remove(w.watched); err != nil {
			w.logger.Debug("unwatch", zap.String("path", w.watched), zap.Error(err))
		}
	}
	w.watched = ""
	if path == "" {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		w.logger.Warn("watch directory", zap.String("path", path), zap.Error(err))
		return
	}
	w.watched = path
	w.logger.Debug("watching", zap.String("path", path))
}

func (w *watcher) loop(ctx context.Context) {
	defer close(w.done)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			timer.Reset(w.debounce)
			fire = timer.C
		case <-w.kick:
			w.rewatch()
		case <-fire:
			fire = nil
			if _, err := w.ctrl.Refresh(ctx); err != nil && !errors.Is(err, session.ErrBusy) {
				w.logger.Debug("refresh after change", zap.Error(err))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *watcher) Close() error {
	w.cancel()
	<-w.done
	return w.fsw.Close()
}
