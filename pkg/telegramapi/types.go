package telegramapi

import "fmt"

// MediaKind identifies the platform media type attached to a message.
type MediaKind string

const (
	KindNone      MediaKind = ""
	KindPhoto     MediaKind = "photo"
	KindVideo     MediaKind = "video"
	KindDocument  MediaKind = "document"
	KindAudio     MediaKind = "audio"
	KindVoice     MediaKind = "voice"
	KindVideoNote MediaKind = "video_note"
	KindAnimation MediaKind = "animation"
	KindSticker   MediaKind = "sticker"
)

// FileHandle is the decoded platform reference to an uploaded blob. It carries
// everything the raw chunked download path needs to build a file location.
type FileHandle struct {
	MediaID       int64
	AccessHash    int64
	FileReference []byte
	DCID          int
	ThumbSize     string
	IsPhoto       bool
}

// Media describes the media payload of a message snapshot.
type Media struct {
	Kind     MediaKind
	FileName string
	MimeType string
	// Size is the declared byte size, 0 when the platform did not report one.
	Size     int64
	Width    int
	Height   int
	Duration int
	Handle   FileHandle
}

// Message is an immutable snapshot of one channel message. Identity is the
// (ChannelID, ID) pair.
type Message struct {
	ChannelID    int64
	ID           int
	MediaGroupID string
	Text         string
	Caption      string
	// Media is nil for pure-text messages.
	Media *Media
	// Empty marks placeholder entries returned for deleted or missing ids.
	Empty bool
}

// Valid reports whether the message is usable (not an empty placeholder).
func (m Message) Valid() bool { return !m.Empty }

// HasMedia reports whether the message carries a downloadable payload.
func (m Message) HasMedia() bool { return m.Media != nil && m.Media.Kind != KindNone }

// Kind returns the media kind, KindNone for pure-text messages.
func (m Message) Kind() MediaKind {
	if m.Media == nil {
		return KindNone
	}
	return m.Media.Kind
}

// Chat is channel metadata, used for download folder derivation.
type Chat struct {
	ID       int64
	Title    string
	Username string
}

// User identifies the account behind a session.
type User struct {
	ID       int64
	Username string
	Premium  bool
}

func (m Message) String() string {
	return fmt.Sprintf("message %d (group %q, kind %q)", m.ID, m.MediaGroupID, m.Kind())
}
