// Package media holds the media-kind dispatch table. All per-kind decisions
// (size estimates, filename patterns, caption support, album compatibility)
// live here so no other package branches on kind ad hoc.
package media

import (
	"fmt"

	"tgmirror/pkg/telegramapi"
)

// AlbumClass groups kinds that may share one published media group.
type AlbumClass int

const (
	// ClassVisual packs photos, videos and animations together.
	ClassVisual AlbumClass = iota
	// ClassDocument packs documents (and, in group context, everything that
	// has no dedicated album representation).
	ClassDocument
	// ClassAudio packs audio and voice messages.
	ClassAudio
)

func (c AlbumClass) String() string {
	switch c {
	case ClassVisual:
		return "visual"
	case ClassDocument:
		return "document"
	case ClassAudio:
		return "audio"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

const (
	// EstimateTextBytes is the load-balancer weight of a pure-text message.
	EstimateTextBytes = 1 << 10
	// EstimateUnknownBytes covers media kinds missing from the table.
	EstimateUnknownBytes = 5 << 20
)

// Info is the per-kind dispatch record.
type Info struct {
	// NamePrefix seeds generated filenames for media without an original name.
	NamePrefix string
	// DefaultExt is used when the mime hint resolves to nothing.
	DefaultExt string
	// DefaultEstimate is the byte weight used when the platform reported no size.
	DefaultEstimate int64
	// SupportsCaption is false for kinds whose send method drops captions.
	SupportsCaption bool
	// Album is the class this kind lands in when packed into a batch.
	Album AlbumClass
}

var table = map[telegramapi.MediaKind]Info{
	telegramapi.KindPhoto:     {NamePrefix: "photo", DefaultExt: ".jpg", DefaultEstimate: 3 << 20, SupportsCaption: true, Album: ClassVisual},
	telegramapi.KindVideo:     {NamePrefix: "video", DefaultExt: ".mp4", DefaultEstimate: 37 << 20, SupportsCaption: true, Album: ClassVisual},
	telegramapi.KindAnimation: {NamePrefix: "animation", DefaultExt: ".mp4", DefaultEstimate: 3 << 20, SupportsCaption: true, Album: ClassVisual},
	telegramapi.KindDocument:  {NamePrefix: "document", DefaultExt: ".bin", DefaultEstimate: 10 << 20, SupportsCaption: true, Album: ClassDocument},
	telegramapi.KindAudio:     {NamePrefix: "audio", DefaultExt: ".mp3", DefaultEstimate: 5 << 20, SupportsCaption: true, Album: ClassAudio},
	telegramapi.KindVoice:     {NamePrefix: "voice", DefaultExt: ".ogg", DefaultEstimate: 1 << 20, SupportsCaption: false, Album: ClassAudio},
	telegramapi.KindVideoNote: {NamePrefix: "video_note", DefaultExt: ".mp4", DefaultEstimate: 2 << 20, SupportsCaption: false, Album: ClassDocument},
	telegramapi.KindSticker:   {NamePrefix: "sticker", DefaultExt: ".webp", DefaultEstimate: 1 << 20, SupportsCaption: false, Album: ClassDocument},
}

// Lookup returns the dispatch record for a kind. Unknown kinds fall back to a
// document-like record so they still flow through the pipeline.
func Lookup(kind telegramapi.MediaKind) Info {
	if info, ok := table[kind]; ok {
		return info
	}
	return Info{NamePrefix: "file", DefaultExt: ".bin", DefaultEstimate: EstimateUnknownBytes, SupportsCaption: true, Album: ClassDocument}
}

// Estimate returns the byte weight of a message for load balancing: the
// declared size when present, the per-kind default otherwise. The constants
// tune the partitioner only; nothing depends on byte-exactness.
func Estimate(msg telegramapi.Message) int64 {
	if msg.Media == nil {
		return EstimateTextBytes
	}
	if msg.Media.Size > 0 {
		return msg.Media.Size
	}
	return Lookup(msg.Media.Kind).DefaultEstimate
}

var mimeExt = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/webm":      ".webm",
	"audio/mpeg":      ".mp3",
	"audio/ogg":       ".ogg",
	"audio/mp4":       ".m4a",
	"audio/flac":      ".flac",
	"application/pdf": ".pdf",
	"application/zip": ".zip",
	"text/plain":      ".txt",
}

// ExtensionFor maps a mime hint to a filename extension, falling back to the
// kind default.
func ExtensionFor(kind telegramapi.MediaKind, mimeType string) string {
	if ext, ok := mimeExt[mimeType]; ok {
		return ext
	}
	return Lookup(kind).DefaultExt
}
