package config

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/brineshore/kadnet/internal/transportlog"
)

// RelayWatcher watches RelayListFile for changes and keeps an in-memory
// copy of the parsed relay list current, grounded on the teacher's
// watcher.Watcher (internal/watcher/watcher.go): an fsnotify.Watcher
// feeding one event-processing goroutine, stopped via a close-only
// stopChan. The teacher's debounce/pending-event bookkeeping doesn't
// apply here — a relay list file is small and rewritten atomically by
// operators, so every write event just gets reread directly.
type RelayWatcher struct {
	fsWatcher *fsnotify.Watcher
	path      string

	mu      sync.RWMutex
	current []string

	stopChan chan struct{}
}

// WatchRelayList starts watching path and returns a RelayWatcher seeded
// with its current contents. Callers should call Relays() instead of
// reading Config.Relays once a watcher is running.
func WatchRelayList(path string) (*RelayWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &RelayWatcher{
		fsWatcher: fsWatcher,
		path:      path,
		stopChan:  make(chan struct{}),
	}
	w.reload()

	if err := fsWatcher.Add(path); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	go w.processEvents()
	return w, nil
}

// Relays returns the most recently loaded relay list.
func (w *RelayWatcher) Relays() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.current))
	copy(out, w.current)
	return out
}

// Stop stops watching and releases the underlying fsnotify.Watcher.
func (w *RelayWatcher) Stop() {
	close(w.stopChan)
	w.fsWatcher.Close()
}

func (w *RelayWatcher) processEvents() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			transportlog.Printf("config: relay list watcher error: %v", err)
		case <-w.stopChan:
			return
		}
	}
}

func (w *RelayWatcher) reload() {
	list, err := readRelayListFile(w.path)
	if err != nil {
		transportlog.Printf("config: failed to reload relay list %s: %v", w.path, err)
		return
	}
	w.mu.Lock()
	w.current = list
	w.mu.Unlock()
	transportlog.Printf("config: relay list reloaded from %s (%d entries)", w.path, len(list))
}

// readRelayListFile parses one host:port per line, '#' comments and
// blank lines ignored.
func readRelayListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}
