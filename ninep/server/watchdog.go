package server

import (
	"log"
	"sync"
	"time"
)

// watchdogMutex wraps a sync.Mutex with a background goroutine that
// logs if the lock is held for longer than it should ever take to
// mutate a fid table. The fid table lock is held only to look up or
// insert a map entry, never across I/O, so a long hold nearly always
// means a bug rather than legitimate contention.
type watchdogMutex struct {
	mu      sync.Mutex
	heldBy  string
	holding bool
}

func newWatchdogMutex(name string) *watchdogMutex {
	w := &watchdogMutex{}
	go w.watch(name)
	return w
}

func (w *watchdogMutex) watch(name string) {
	for {
		time.Sleep(10 * time.Second)
		locked := make(chan struct{})
		go func() {
			w.mu.Lock()
			w.mu.Unlock()
			close(locked)
		}()
		select {
		case <-locked:
		case <-time.After(20 * time.Second):
			log.Printf("ninep/server: probable deadlock on %s; held by %s", name, w.heldBy)
		}
	}
}

func (w *watchdogMutex) Lock(about string) {
	w.mu.Lock()
	w.heldBy = about
	w.holding = true
}

func (w *watchdogMutex) Unlock() {
	w.holding = false
	w.heldBy = ""
	w.mu.Unlock()
}
