package resource

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fileWatcher calls reload when one file changes. It watches the file's
// directory so creation and atomic replacement are seen, and polls when the
// directory cannot be watched (for example before the first az login).
type fileWatcher struct {
	path     string
	reload   func()
	debounce time.Duration
	poll     time.Duration
	log      *slog.Logger

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	stop     chan struct{}
	stopOnce sync.Once
}

func watchFile(path string, debounce, poll time.Duration, log *slog.Logger, reload func()) *fileWatcher {
	fw := &fileWatcher{
		path:     path,
		reload:   reload,
		debounce: debounce,
		poll:     poll,
		log:      log,
		stop:     make(chan struct{}),
	}

	w, err := fsnotify.NewWatcher()
	if err == nil {
		if err = w.Add(filepath.Dir(path)); err != nil {
			w.Close()
		}
	}
	if err != nil {
		log.Debug("file watch unavailable, polling", "path", path, "interval", poll, "error", err)
		go fw.pollLoop()
		return fw
	}
	fw.watcher = w
	go fw.watchLoop()
	return fw
}

func (fw *fileWatcher) watchLoop() {
	base := filepath.Base(fw.path)
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				fw.schedule()
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Warn("file watcher error", "path", fw.path, "error", err)
		case <-fw.stop:
			return
		}
	}
}

func (fw *fileWatcher) pollLoop() {
	if fw.poll <= 0 {
		return
	}
	ticker := time.NewTicker(fw.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fw.reload()
		case <-fw.stop:
			return
		}
	}
}

// schedule debounces bursts of events into one reload.
func (fw *fileWatcher) schedule() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounce, func() {
		select {
		case <-fw.stop:
		default:
			fw.reload()
		}
	})
}

func (fw *fileWatcher) close() {
	fw.stopOnce.Do(func() {
		close(fw.stop)
		if fw.watcher != nil {
			fw.watcher.Close()
		}
		fw.mu.Lock()
		if fw.timer != nil {
			fw.timer.Stop()
		}
		fw.mu.Unlock()
	})
}
