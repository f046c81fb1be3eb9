package remote

import (
	"sync"

	"sendcode_nexus/proxypool/model"
)

// SessionStore keeps opaque session blobs per endpoint. Each trial only touches
// the slot of its own endpoint, so concurrent trials never see each other's state.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[model.EndpointKey][]byte
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[model.EndpointKey][]byte)}
}

// Get returns a copy of the stored blob and whether one exists.
func (s *SessionStore) Get(key model.EndpointKey) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Put replaces the blob stored for key.
func (s *SessionStore) Put(key model.EndpointKey, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = append([]byte(nil), data...)
}

// Len returns the number of endpoints with stored state.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
