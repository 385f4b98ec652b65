package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"tgmirror/pkg/telegramapi"
)

const (
	// DefaultStaggerDelay spaces session kickoffs so first connects do not
	// trip per-account limits.
	DefaultStaggerDelay = 5 * time.Second
	stopJoinTimeout     = 10 * time.Second
)

// PoolConfig configures the session pool.
type PoolConfig struct {
	SessionsDir  string
	Names        []string
	StaggerDelay time.Duration
}

// Pool owns the set of client sessions.
type Pool struct {
	cfg     PoolConfig
	factory telegramapi.SessionFactory

	mu       sync.RWMutex
	sessions []*Session
}

// NewPool builds an empty pool. Initialize loads the sessions.
func NewPool(cfg PoolConfig, factory telegramapi.SessionFactory) *Pool {
	if cfg.StaggerDelay <= 0 {
		cfg.StaggerDelay = DefaultStaggerDelay
	}
	return &Pool{cfg: cfg, factory: factory}
}

// Initialize loads persisted credentials for every configured name and
// creates the session objects in connecting state. A missing credential file
// fails the whole pool: sessions are created externally by the wizard.
func (p *Pool) Initialize() error {
	if len(p.cfg.Names) == 0 {
		return fmt.Errorf("session pool: no session names configured")
	}

	sessions := make([]*Session, 0, len(p.cfg.Names))
	for _, name := range p.cfg.Names {
		path := filepath.Join(p.cfg.SessionsDir, name+".session")
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("session %q: credential file %s not found: %w", name, path, err)
		}
		client, err := p.factory(name)
		if err != nil {
			return fmt.Errorf("session %q: %w", name, err)
		}
		sessions = append(sessions, newSession(name, client))
	}

	p.mu.Lock()
	p.sessions = sessions
	p.mu.Unlock()
	log.Printf("[SessionPool] initialized %d session(s)", len(sessions))
	return nil
}

// StartAll starts sessions concurrently with a staggered kickoff. On a
// flood-wait signal a session sleeps the instructed duration and retries once
// without blocking siblings. Fails only when no session connects at all.
func (p *Pool) StartAll(ctx context.Context) error {
	p.mu.RLock()
	sessions := p.sessions
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(idx int, sess *Session) {
			defer wg.Done()
			if idx > 0 {
				delay := time.Duration(idx) * p.cfg.StaggerDelay
				log.Printf("[SessionPool %s] staggered start in %s", sess.Name(), delay)
				select {
				case <-ctx.Done():
					sess.setState(StateDisconnected)
					return
				case <-time.After(delay):
				}
			}
			p.startOne(ctx, sess)
		}(i, s)
	}
	wg.Wait()

	connected := len(p.Sessions())
	if connected == 0 {
		return fmt.Errorf("session pool: no sessions connected")
	}
	if connected < len(sessions) {
		log.Printf("[SessionPool] continuing with %d/%d session(s)", connected, len(sessions))
	} else {
		log.Printf("[SessionPool] all %d session(s) connected", connected)
	}
	return nil
}

func (p *Pool) startOne(ctx context.Context, sess *Session) {
	err := sess.Client().Start(ctx)
	if wait, ok := telegramapi.AsFloodWait(err); ok {
		log.Printf("[SessionPool %s] flood wait on connect, sleeping %s", sess.Name(), wait)
		select {
		case <-ctx.Done():
			sess.setState(StateDisconnected)
			return
		case <-time.After(wait):
		}
		err = sess.Client().Start(ctx)
	}
	if err != nil {
		log.Printf("[SessionPool %s] failed to connect: %v", sess.Name(), err)
		sentry.CaptureException(fmt.Errorf("session %s failed to connect: %w", sess.Name(), err))
		sess.setState(StateDisconnected)
		return
	}
	sess.setState(StateConnected)
	log.Printf("[SessionPool %s] connected", sess.Name())
}

// StopAll requests every connected session stop, joins with a bound, and
// swallows the expected already-closed conditions.
func (p *Pool) StopAll(ctx context.Context) {
	p.mu.RLock()
	sessions := p.sessions
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		if !s.Connected() {
			continue
		}
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			stopCtx, cancel := context.WithTimeout(ctx, stopJoinTimeout)
			defer cancel()
			if err := sess.Client().Stop(stopCtx); err != nil && !isExpectedCloseError(err) {
				log.Printf("[SessionPool %s] stop error: %v", sess.Name(), err)
			}
			sess.setState(StateDisconnected)
		}(s)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
		log.Printf("[SessionPool] all sessions stopped")
	case <-time.After(stopJoinTimeout):
		log.Printf("[SessionPool] stop join timed out after %s, forcing shutdown", stopJoinTimeout)
	}
}

// Sessions returns a snapshot of the currently usable sessions.
func (p *Pool) Sessions() []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		if s.Connected() {
			out = append(out, s)
		}
	}
	return out
}

// Find returns the usable session with the given name.
func (p *Pool) Find(name string) (*Session, bool) {
	for _, s := range p.Sessions() {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// All returns every session regardless of state, for reporting.
func (p *Pool) All() []*Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

func isExpectedCloseError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"already closed", "already stopped", "not connected", "client is closed", "connection closed"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
