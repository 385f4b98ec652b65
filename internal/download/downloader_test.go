package download

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgmirror/internal/errs"
	"tgmirror/internal/session"
	"tgmirror/internal/storage"
	"tgmirror/pkg/telegramapi"
)

// fakeTransport scripts both download paths.
type fakeTransport struct {
	dc         int
	content    []byte
	rawCalls   int
	streamed   int
	chunkLimit int
}

func (f *fakeTransport) Start(ctx context.Context) error { return nil }
func (f *fakeTransport) Stop(ctx context.Context) error  { return nil }
func (f *fakeTransport) GetMessages(ctx context.Context, channel string, ids []int) ([]telegramapi.Message, error) {
	return nil, nil
}
func (f *fakeTransport) GetChat(ctx context.Context, channel string) (*telegramapi.Chat, error) {
	return nil, nil
}
func (f *fakeTransport) GetMe(ctx context.Context) (*telegramapi.User, error) { return nil, nil }

func (f *fakeTransport) StreamMedia(ctx context.Context, msg telegramapi.Message, w io.Writer) (int64, error) {
	f.streamed++
	n, err := w.Write(f.content)
	return int64(n), err
}

func (f *fakeTransport) GetFileChunk(ctx context.Context, handle telegramapi.FileHandle, offset int64, limit int) ([]byte, error) {
	f.rawCalls++
	if f.chunkLimit > 0 && limit > f.chunkLimit {
		limit = f.chunkLimit
	}
	if offset >= int64(len(f.content)) {
		return nil, nil
	}
	end := offset + int64(limit)
	if end > int64(len(f.content)) {
		end = int64(len(f.content))
	}
	return f.content[offset:end], nil
}

func (f *fakeTransport) CurrentDC(ctx context.Context) (int, error) { return f.dc, nil }

func mediaMessage(id int, kind telegramapi.MediaKind, size int64, dc int) telegramapi.Message {
	return telegramapi.Message{
		ID: id,
		Media: &telegramapi.Media{
			Kind: kind,
			Size: size,
			Handle: telegramapi.FileHandle{
				MediaID: int64(id), AccessHash: 1, DCID: dc,
			},
		},
	}
}

func newTestDownloader(t *testing.T, cfg Config) (*Downloader, *storage.Layout) {
	t.Helper()
	layout := storage.New(t.TempDir())
	_, err := layout.EnsureDir("chan")
	require.NoError(t, err)
	return New(cfg, layout, errs.NewRecorder()), layout
}

func TestDownloadRawForSmallNonVideo(t *testing.T) {
	transport := &fakeTransport{dc: 2, content: []byte("hello world"), chunkLimit: 4}
	sess := session.NewConnected("s1", transport)
	d, _ := newTestDownloader(t, Config{ThresholdBytes: 20 << 20})

	msg := mediaMessage(1, telegramapi.KindPhoto, 11, 2)
	item, err := d.Download(context.Background(), sess, msg, "chan")
	require.NoError(t, err)
	require.NotNil(t, item)

	assert.Greater(t, transport.rawCalls, 1)
	assert.Zero(t, transport.streamed)
	assert.Equal(t, int64(11), item.Size)
	data, err := os.ReadFile(item.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, int64(1), sess.Counters.Downloaded.Load())
	assert.Equal(t, int64(11), sess.Counters.Bytes.Load())
}

func TestDownloadStreamsVideosRegardlessOfSize(t *testing.T) {
	transport := &fakeTransport{dc: 2, content: []byte("tiny video")}
	sess := session.NewConnected("s1", transport)
	d, _ := newTestDownloader(t, Config{ThresholdBytes: 20 << 20})

	msg := mediaMessage(2, telegramapi.KindVideo, 10, 2)
	item, err := d.Download(context.Background(), sess, msg, "chan")
	require.NoError(t, err)
	require.NotNil(t, item)

	assert.Zero(t, transport.rawCalls)
	assert.Equal(t, 1, transport.streamed)
}

func TestDownloadStreamsLargeFiles(t *testing.T) {
	transport := &fakeTransport{dc: 2, content: []byte("big")}
	sess := session.NewConnected("s1", transport)
	d, _ := newTestDownloader(t, Config{ThresholdBytes: 2})

	msg := mediaMessage(3, telegramapi.KindDocument, 3, 2)
	_, err := d.Download(context.Background(), sess, msg, "chan")
	require.NoError(t, err)
	assert.Equal(t, 1, transport.streamed)
}

func TestDownloadCrossDCFallsBackToStream(t *testing.T) {
	transport := &fakeTransport{dc: 2, content: []byte("elsewhere")}
	sess := session.NewConnected("s1", transport)
	d, _ := newTestDownloader(t, Config{ThresholdBytes: 20 << 20})

	msg := mediaMessage(4, telegramapi.KindPhoto, 9, 4)
	_, err := d.Download(context.Background(), sess, msg, "chan")
	require.NoError(t, err)
	assert.Zero(t, transport.rawCalls)
	assert.Equal(t, 1, transport.streamed)
}

func TestDownloadCrossDCMemoryModeFails(t *testing.T) {
	transport := &fakeTransport{dc: 2, content: []byte("elsewhere")}
	sess := session.NewConnected("s1", transport)
	d, _ := newTestDownloader(t, Config{ThresholdBytes: 20 << 20, MemoryMode: true})

	msg := mediaMessage(5, telegramapi.KindPhoto, 9, 4)
	_, err := d.Download(context.Background(), sess, msg, "chan")
	require.Error(t, err)
	assert.Equal(t, errs.CategoryBusiness, errs.Classify(err))
	assert.Equal(t, int64(1), sess.Counters.Failed.Load())
}

func TestDownloadMemoryModeComputesChecksum(t *testing.T) {
	transport := &fakeTransport{dc: 2, content: []byte("abc")}
	sess := session.NewConnected("s1", transport)
	d, _ := newTestDownloader(t, Config{ThresholdBytes: 20 << 20, MemoryMode: true})

	msg := mediaMessage(6, telegramapi.KindPhoto, 3, 2)
	item, err := d.Download(context.Background(), sess, msg, "chan")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), item.Data)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", item.MD5)
	assert.Empty(t, item.Path)
}

func TestDownloadSkipsExistingFile(t *testing.T) {
	transport := &fakeTransport{dc: 2, content: []byte("new")}
	sess := session.NewConnected("s1", transport)
	d, layout := newTestDownloader(t, Config{ThresholdBytes: 20 << 20})

	dir, err := layout.EnsureDir("chan")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "7_old.jpg"), []byte("old"), 0o644))

	msg := mediaMessage(7, telegramapi.KindPhoto, 3, 2)
	item, err := d.Download(context.Background(), sess, msg, "chan")
	require.NoError(t, err)
	assert.True(t, item.AlreadyPresent)
	assert.Zero(t, transport.rawCalls)
	assert.Zero(t, transport.streamed)
	assert.Equal(t, int64(1), sess.Counters.Skipped.Load())
}

func TestDownloadRejectsEmptyResult(t *testing.T) {
	transport := &fakeTransport{dc: 2, content: nil}
	sess := session.NewConnected("s1", transport)
	d, layout := newTestDownloader(t, Config{ThresholdBytes: 20 << 20})

	msg := mediaMessage(8, telegramapi.KindPhoto, 5, 2)
	_, err := d.Download(context.Background(), sess, msg, "chan")
	require.Error(t, err)

	// No partial or zero-byte artifact is left behind.
	dir := filepath.Join(layout.Root, "chan")
	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestDownloadTextMessageIsNil(t *testing.T) {
	sess := session.NewConnected("s1", &fakeTransport{dc: 2})
	d, _ := newTestDownloader(t, Config{})

	item, err := d.Download(context.Background(), sess, telegramapi.Message{ID: 9, Text: "hi"}, "chan")
	require.NoError(t, err)
	assert.Nil(t, item)
}
