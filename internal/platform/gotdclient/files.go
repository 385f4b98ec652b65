package gotdclient

import (
	"context"
	"fmt"
	"io"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"tgmirror/pkg/telegramapi"
)

// fileLocation rebuilds the platform file location from a snapshot handle.
func fileLocation(handle telegramapi.FileHandle) tg.InputFileLocationClass {
	if handle.IsPhoto {
		return &tg.InputPhotoFileLocation{
			ID:            handle.MediaID,
			AccessHash:    handle.AccessHash,
			FileReference: handle.FileReference,
			ThumbSize:     handle.ThumbSize,
		}
	}
	return &tg.InputDocumentFileLocation{
		ID:            handle.MediaID,
		AccessHash:    handle.AccessHash,
		FileReference: handle.FileReference,
	}
}

// GetFileChunk performs one raw read. The platform returns short or empty
// payloads at end of file.
func (c *Client) GetFileChunk(ctx context.Context, handle telegramapi.FileHandle, offset int64, limit int) ([]byte, error) {
	api, err := c.rawAPI()
	if err != nil {
		return nil, err
	}
	res, err := api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Location: fileLocation(handle),
		Offset:   offset,
		Limit:    limit,
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	file, ok := res.(*tg.UploadFile)
	if !ok {
		return nil, fmt.Errorf("unexpected raw read response %T", res)
	}
	return file.Bytes, nil
}

// StreamMedia downloads through the library streaming path, which follows
// datacenter redirects transparently.
func (c *Client) StreamMedia(ctx context.Context, msg telegramapi.Message, w io.Writer) (int64, error) {
	api, err := c.rawAPI()
	if err != nil {
		return 0, err
	}
	if msg.Media == nil {
		return 0, fmt.Errorf("message %d has no media", msg.ID)
	}

	counting := &countingWriter{w: w}
	loc := fileLocation(msg.Media.Handle)
	if _, err := downloader.NewDownloader().Download(api, loc).Stream(ctx, counting); err != nil {
		return counting.n, wrapErr(err)
	}
	return counting.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
