package capture

import "sync"

// Registry maps lowercased capture keys to live sessions. One mutex guards
// every lookup, insertion, removal and traversal.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
	}
}

// LookupOrCreate returns the session registered under lookupKey, calling
// create with key to build and register one if there is none. create runs
// with the registry locked. The second result reports whether a session was
// created.
func (r *Registry) LookupOrCreate(lookupKey, key string, create func(key string) Session) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[lookupKey]; ok {
		return s, false
	}
	s := create(key)
	r.sessions[lookupKey] = s
	return s, true
}

// Destroy removes the first entry whose value is s itself. Keys play no part
// in the match. It returns the lookup key of the removed entry and whether
// one was removed.
func (r *Registry) Destroy(s Session) (string, bool) {
	if s == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, v := range r.sessions {
		if v == s {
			delete(r.sessions, key)
			return key, true
		}
	}
	return "", false
}

// ForEach calls fn for every live session while holding the registry lock.
// fn must not block and must not call back into the registry.
func (r *Registry) ForEach(fn func(Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		fn(s)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
