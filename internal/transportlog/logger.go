// Package transportlog provides a tagged logging helper shared by the
// transport core's packages. It always writes to the process-wide stdlib
// logger and optionally tees to a dedicated file for operators who want a
// single place to tail transport activity.
package transportlog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var state struct {
	mu       sync.Mutex
	file     *os.File
	logger   *log.Logger
	initOnce sync.Once
}

// Init opens <logDir>/transport.log and tees all subsequent Printf calls to
// it in addition to the main process log. Safe to call multiple times; only
// the first call takes effect.
func Init(logDir string) {
	state.initOnce.Do(func() {
		logPath := filepath.Join(logDir, "transport.log")

		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[transport] WARNING: could not open transport log file %s: %v (transport logs will only go to main log)", logPath, err)
			return
		}

		state.mu.Lock()
		state.file = f
		state.logger = log.New(f, "", 0)
		state.mu.Unlock()
		log.Printf("[transport] transport log file initialized: %s", logPath)
	})
}

// Printf writes a tagged log line to both the main log and, if Init was
// called, the dedicated transport log file.
func Printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Print(msg)

	state.mu.Lock()
	if state.logger != nil {
		state.logger.Printf("%s %s", time.Now().Format("2006/01/02 15:04:05"), msg)
	}
	state.mu.Unlock()
}

// Close closes the dedicated transport log file, if one is open.
func Close() {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.file != nil {
		state.file.Close()
		state.file = nil
		state.logger = nil
	}
}
