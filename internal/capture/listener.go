package capture

import "sync"

// Listener observes capture progress. Callbacks run synchronously on the
// goroutine that produced the event.
type Listener interface {
	OnAudioBuffer(occupied, total int)
	OnAudioBufferWriteout()
	OnFrameProcessed(name string)
	OnFrameSaved(path string)
}

// listenerSet is an insertion-ordered set of listeners. It has its own lock
// so notifications never contend with the session registry; a notification
// racing with Add or Remove may or may not reach the listener in question.
type listenerSet struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (ls *listenerSet) add(l Listener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, existing := range ls.listeners {
		if existing == l {
			return
		}
	}
	ls.listeners = append(ls.listeners, l)
}

func (ls *listenerSet) remove(l Listener) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, existing := range ls.listeners {
		if existing == l {
			ls.listeners = append(ls.listeners[:i:i], ls.listeners[i+1:]...)
			return
		}
	}
}

// snapshot returns the current members; the slice is never mutated in place.
func (ls *listenerSet) snapshot() []Listener {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.listeners
}

func (ls *listenerSet) each(fn func(Listener)) {
	for _, l := range ls.snapshot() {
		fn(l)
	}
}
