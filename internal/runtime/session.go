package runtime

import (
	"errors"
	"sync"
)

// ErrNotLoaded is returned when a generation is attempted before any
// backend has been loaded into the session.
var ErrNotLoaded = errors.New("runtime: no model loaded")

// ErrBusy is returned when a generation is attempted while another one
// holds the session.
var ErrBusy = errors.New("runtime: generation already in progress")

// Session owns the loaded model weights and their mutable attention
// cache. At most one session backend is active at a time: loading a new
// backend tears down the previous one, and only one generation may hold
// the session at once.
type Session struct {
	mu   sync.Mutex
	be   Backend
	busy bool
}

// NewSession creates a session. The backend may be nil; Load installs
// one later.
func NewSession(be Backend) *Session {
	return &Session{be: be}
}

// Load installs a new backend, closing any previous one first. It fails
// with ErrBusy while a generation is in flight.
func (s *Session) Load(be Backend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	if s.be != nil {
		if err := s.be.Close(); err != nil {
			return err
		}
	}
	s.be = be
	return nil
}

// Begin claims the session for a single generation call. It returns the
// backend and a release function that must be called when the
// generation ends, successfully or not.
func (s *Session) Begin() (Backend, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.be == nil {
		return nil, nil, ErrNotLoaded
	}
	if s.busy {
		return nil, nil, ErrBusy
	}
	s.busy = true
	return s.be, func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}, nil
}

// ContextLength reports the loaded model's context window, or zero when
// no backend is loaded.
func (s *Session) ContextLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.be == nil {
		return 0
	}
	return s.be.ContextLength()
}

// Loaded reports whether a backend is installed.
func (s *Session) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.be != nil
}

// Close tears down the session and its backend.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.be == nil {
		return nil
	}
	err := s.be.Close()
	s.be = nil
	return err
}
