package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgmirror/pkg/telegramapi"
)

type stubClient struct {
	startErrs []error
	starts    atomic.Int64
	stopErr   error
}

func (s *stubClient) Start(ctx context.Context) error {
	n := s.starts.Add(1)
	if int(n) <= len(s.startErrs) {
		return s.startErrs[n-1]
	}
	return nil
}
func (s *stubClient) Stop(ctx context.Context) error { return s.stopErr }
func (s *stubClient) GetMessages(ctx context.Context, channel string, ids []int) ([]telegramapi.Message, error) {
	return nil, nil
}
func (s *stubClient) GetChat(ctx context.Context, channel string) (*telegramapi.Chat, error) {
	return nil, nil
}
func (s *stubClient) GetMe(ctx context.Context) (*telegramapi.User, error) { return nil, nil }
func (s *stubClient) StreamMedia(ctx context.Context, msg telegramapi.Message, w io.Writer) (int64, error) {
	return 0, nil
}
func (s *stubClient) GetFileChunk(ctx context.Context, handle telegramapi.FileHandle, offset int64, limit int) ([]byte, error) {
	return nil, nil
}
func (s *stubClient) CurrentDC(ctx context.Context) (int, error) { return 0, nil }

func writeSessionFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".session"), []byte("{}"), 0o600))
	}
}

func newTestPool(dir string, names []string, clients map[string]*stubClient) *Pool {
	return NewPool(PoolConfig{
		SessionsDir:  dir,
		Names:        names,
		StaggerDelay: time.Millisecond,
	}, func(name string) (telegramapi.SessionClient, error) {
		return clients[name], nil
	})
}

func TestInitializeFailsOnMissingSessionFile(t *testing.T) {
	dir := t.TempDir()
	writeSessionFiles(t, dir, "a")

	pool := newTestPool(dir, []string{"a", "missing"}, map[string]*stubClient{
		"a": {}, "missing": {},
	})
	err := pool.Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestStartAllContinuesWithSurvivors(t *testing.T) {
	dir := t.TempDir()
	writeSessionFiles(t, dir, "good", "bad")

	clients := map[string]*stubClient{
		"good": {},
		"bad":  {startErrs: []error{errors.New("auth key invalid"), errors.New("auth key invalid")}},
	}
	pool := newTestPool(dir, []string{"good", "bad"}, clients)
	require.NoError(t, pool.Initialize())
	require.NoError(t, pool.StartAll(context.Background()))

	usable := pool.Sessions()
	require.Len(t, usable, 1)
	assert.Equal(t, "good", usable[0].Name())
	assert.Len(t, pool.All(), 2)
}

func TestStartAllFailsWhenNothingConnects(t *testing.T) {
	dir := t.TempDir()
	writeSessionFiles(t, dir, "a")

	pool := newTestPool(dir, []string{"a"}, map[string]*stubClient{
		"a": {startErrs: []error{errors.New("boom")}},
	})
	require.NoError(t, pool.Initialize())
	assert.Error(t, pool.StartAll(context.Background()))
}

func TestStartAllRetriesOnceAfterFloodWait(t *testing.T) {
	dir := t.TempDir()
	writeSessionFiles(t, dir, "a")

	client := &stubClient{startErrs: []error{telegramapi.NewFloodWait(0)}}
	pool := newTestPool(dir, []string{"a"}, map[string]*stubClient{"a": client})
	require.NoError(t, pool.Initialize())
	require.NoError(t, pool.StartAll(context.Background()))

	assert.Equal(t, int64(2), client.starts.Load())
	assert.Len(t, pool.Sessions(), 1)
}

func TestStopAllSwallowsExpectedErrors(t *testing.T) {
	dir := t.TempDir()
	writeSessionFiles(t, dir, "a")

	client := &stubClient{stopErr: errors.New("client is closed")}
	pool := newTestPool(dir, []string{"a"}, map[string]*stubClient{"a": client})
	require.NoError(t, pool.Initialize())
	require.NoError(t, pool.StartAll(context.Background()))

	pool.StopAll(context.Background())
	assert.Empty(t, pool.Sessions())
}

func TestAcquireRelease(t *testing.T) {
	s := NewConnected("x", &stubClient{})
	require.True(t, s.Acquire())
	assert.False(t, s.Acquire(), "double acquire must fail")
	s.Release(true)
	assert.True(t, s.Acquire())
	s.Release(false)
	assert.Equal(t, StateError, s.State())
	s.Recover()
	assert.True(t, s.Acquire())
}
