// Package telegramapi defines the contract between the pipeline and the
// MTProto-class client library backing each session. The interface exists so
// the fetcher and downloader can be exercised against mocks, with one
// production implementation wired in at startup.
package telegramapi

import (
	"context"
	"io"
)

// SessionClient is one authenticated client connection. Implementations must
// surface platform rate-limit signals as *FloodWaitError so callers can honor
// the instructed wait.
type SessionClient interface {
	// Start connects and verifies the persisted authorization. It must be
	// called exactly once before any other operation.
	Start(ctx context.Context) error
	// Stop disconnects and releases resources. Safe to call after a failed
	// Start.
	Stop(ctx context.Context) error

	// GetMessages performs a batched read of up to 200 ids from the channel.
	// Missing ids come back as Empty placeholders, never as gaps.
	GetMessages(ctx context.Context, channel string, ids []int) ([]Message, error)
	// GetChat resolves channel metadata.
	GetChat(ctx context.Context, channel string) (*Chat, error)
	// GetMe identifies the account behind the session.
	GetMe(ctx context.Context) (*User, error)

	// StreamMedia downloads the message media through the platform's streaming
	// path, writing chunks to w. Returns the number of bytes written.
	StreamMedia(ctx context.Context, msg Message, w io.Writer) (int64, error)
	// GetFileChunk reads one chunk through the raw file API. An empty result
	// signals end of file. Only valid when the file lives on the session's
	// current datacenter.
	GetFileChunk(ctx context.Context, handle FileHandle, offset int64, limit int) ([]byte, error)
	// CurrentDC reports the datacenter the session is connected to.
	CurrentDC(ctx context.Context) (int, error)
}

// SessionFactory builds a client for a named session from its persisted
// credentials.
type SessionFactory func(name string) (SessionClient, error)

// ProgressWriter counts bytes written and reports progress through a callback
// every interval bytes. Used by both download strategies.
type ProgressWriter struct {
	W        io.Writer
	Interval int64
	OnChunk  func(written int64)

	written      int64
	lastReported int64
}

func (p *ProgressWriter) Write(b []byte) (int, error) {
	n, err := p.W.Write(b)
	p.written += int64(n)
	if p.OnChunk != nil && p.Interval > 0 && p.written-p.lastReported >= p.Interval {
		p.lastReported = p.written
		p.OnChunk(p.written)
	}
	return n, err
}

// Written returns the total number of bytes passed through.
func (p *ProgressWriter) Written() int64 { return p.written }
