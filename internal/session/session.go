// Package session owns the pool of authenticated client sessions: staggered
// startup, flood-wait-aware retry, bounded teardown. The pool is the single
// source of truth for session handles; consumers borrow, they do not own.
package session

import (
	"fmt"
	"sync/atomic"

	"tgmirror/pkg/telegramapi"
)

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBusy
	StateError
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBusy:
		return "busy"
	case StateError:
		return "error"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Counters accumulates per-session outcomes for the final report.
type Counters struct {
	Fetched    atomic.Int64
	Downloaded atomic.Int64
	Published  atomic.Int64
	Failed     atomic.Int64
	Skipped    atomic.Int64
	Bytes      atomic.Int64
}

// Session is one named client connection plus its running totals. At most one
// fetch, download or publish operation runs on a session at a time; callers
// bracket work with Acquire/Release.
type Session struct {
	name   string
	client telegramapi.SessionClient
	state  atomic.Int32

	Counters Counters
}

func newSession(name string, client telegramapi.SessionClient) *Session {
	s := &Session{name: name, client: client}
	s.state.Store(int32(StateConnecting))
	return s
}

// NewConnected wraps an already-started client as a connected session, for
// callers that manage the connection themselves.
func NewConnected(name string, client telegramapi.SessionClient) *Session {
	s := &Session{name: name, client: client}
	s.state.Store(int32(StateConnected))
	return s
}

// Name returns the stable session name.
func (s *Session) Name() string { return s.name }

// Client returns the underlying connection.
func (s *Session) Client() telegramapi.SessionClient { return s.client }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Acquire marks the session busy. Fails when the session is not connected or
// already running an operation.
func (s *Session) Acquire() bool {
	return s.state.CompareAndSwap(int32(StateConnected), int32(StateBusy))
}

// Release returns a busy session to connected. A failed operation may pass
// recovered=false to park the session in the error state; the next successful
// Acquire-after-recovery resets it.
func (s *Session) Release(recovered bool) {
	if recovered {
		s.state.CompareAndSwap(int32(StateBusy), int32(StateConnected))
		s.state.CompareAndSwap(int32(StateError), int32(StateConnected))
		return
	}
	s.state.Store(int32(StateError))
}

// Recover moves an errored session back to connected.
func (s *Session) Recover() {
	s.state.CompareAndSwap(int32(StateError), int32(StateConnected))
}

// Connected reports whether the session is usable (connected or busy).
func (s *Session) Connected() bool {
	st := s.State()
	return st == StateConnected || st == StateBusy
}
