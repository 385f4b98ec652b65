package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tgmirror/internal/download"
	"tgmirror/internal/errs"
	"tgmirror/internal/template"
	"tgmirror/pkg/telegramapi"
)

// MockBot implements telegoapi.BotAPI.
type MockBot struct {
	mock.Mock
}

func (m *MockBot) GetMe(ctx context.Context) (*telego.User, error) {
	args := m.Called(ctx)
	if u, ok := args.Get(0).(*telego.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func sentMessage(args mock.Arguments) (*telego.Message, error) {
	if msg, ok := args.Get(0).(*telego.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBot) SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error) {
	return sentMessage(m.Called(ctx, params))
}
func (m *MockBot) SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error) {
	return sentMessage(m.Called(ctx, params))
}
func (m *MockBot) SendAudio(ctx context.Context, params *telego.SendAudioParams) (*telego.Message, error) {
	return sentMessage(m.Called(ctx, params))
}
func (m *MockBot) SendVoice(ctx context.Context, params *telego.SendVoiceParams) (*telego.Message, error) {
	return sentMessage(m.Called(ctx, params))
}
func (m *MockBot) SendVideoNote(ctx context.Context, params *telego.SendVideoNoteParams) (*telego.Message, error) {
	return sentMessage(m.Called(ctx, params))
}
func (m *MockBot) SendAnimation(ctx context.Context, params *telego.SendAnimationParams) (*telego.Message, error) {
	return sentMessage(m.Called(ctx, params))
}
func (m *MockBot) SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error) {
	return sentMessage(m.Called(ctx, params))
}
func (m *MockBot) SendSticker(ctx context.Context, params *telego.SendStickerParams) (*telego.Message, error) {
	return sentMessage(m.Called(ctx, params))
}
func (m *MockBot) SendMediaGroup(ctx context.Context, params *telego.SendMediaGroupParams) ([]telego.Message, error) {
	args := m.Called(ctx, params)
	if msgs, ok := args.Get(0).([]telego.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockBot) CopyMessage(ctx context.Context, params *telego.CopyMessageParams) (*telego.MessageID, error) {
	args := m.Called(ctx, params)
	if id, ok := args.Get(0).(*telego.MessageID); ok {
		return id, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockBot) DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error {
	return m.Called(ctx, params).Error(0)
}
func (m *MockBot) DeleteMessages(ctx context.Context, params *telego.DeleteMessagesParams) error {
	return m.Called(ctx, params).Error(0)
}

func testConfig(preserve bool) Config {
	return Config{
		ScratchChatID:       -100,
		Targets:             []string{"@target"},
		PreserveStructure:   preserve,
		BatchSize:           10,
		StaleFlush:          time.Hour,
		FanoutConcurrency:   1,
		Retries:             3,
		RetryDelay:          time.Millisecond,
		CleanupAfterSuccess: false,
		CaptionLimit:        1024,
		Template:            template.Config{Mode: template.ModeOriginal},
	}
}

func newTestPublisher(t *testing.T, bot *MockBot, cfg Config) *Publisher {
	t.Helper()
	p, err := New(bot, cfg, template.NewEngine(), errs.NewRecorder())
	require.NoError(t, err)
	p.Start(context.Background())
	return p
}

func memoryItem(id int, gid string, kind telegramapi.MediaKind, caption string) *download.Item {
	return &download.Item{
		Message: telegramapi.Message{
			ID:           id,
			MediaGroupID: gid,
			Caption:      caption,
			Media:        &telegramapi.Media{Kind: kind, FileName: "f.bin", Size: 3},
		},
		SessionName: "s1",
		Kind:        kind,
		Data:        []byte("abc"),
		Size:        3,
	}
}

func photoReply(msgID int) *telego.Message {
	return &telego.Message{
		MessageID: msgID,
		Photo:     []telego.PhotoSize{{FileID: "small", FileSize: 1}, {FileID: "big", FileSize: 9}},
	}
}

func TestSelfIdentifiesBot(t *testing.T) {
	bot := &MockBot{}
	p := newTestPublisher(t, bot, testConfig(false))
	bot.On("GetMe", mock.Anything).Return(&telego.User{Username: "mirror_bot"}, nil).Once()

	me, err := p.Self(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mirror_bot", me.Username)
	bot.AssertExpectations(t)
}

func TestSelfFailsOnBadToken(t *testing.T) {
	bot := &MockBot{}
	p := newTestPublisher(t, bot, testConfig(false))
	bot.On("GetMe", mock.Anything).Return(nil, errors.New("401 unauthorized")).Once()

	_, err := p.Self(context.Background())
	require.Error(t, err)
	bot.AssertExpectations(t)
}

func TestTruncateCaption(t *testing.T) {
	assert.Equal(t, "short", TruncateCaption("short", 1024))

	long := make([]rune, 1100)
	for i := range long {
		long[i] = 'x'
	}
	out := TruncateCaption(string(long), 1024)
	assert.Len(t, []rune(out), 1024)
	assert.Equal(t, "...", out[len(out)-3:])
}

func TestChatID(t *testing.T) {
	assert.Equal(t, telego.ChatID{ID: -1001234}, chatID("-1001234"))
	assert.Equal(t, telego.ChatID{Username: "@chan"}, chatID("@chan"))
	assert.Equal(t, telego.ChatID{Username: "@chan"}, chatID("chan"))
}

func TestRetryAfterOf(t *testing.T) {
	wait, ok := retryAfterOf(telegramapi.NewFloodWait(7))
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, wait)

	wait, ok = retryAfterOf(errors.New("telegram: 429 retry_after 12"))
	assert.True(t, ok)
	assert.Equal(t, 12*time.Second, wait)

	_, ok = retryAfterOf(errors.New("plain failure"))
	assert.False(t, ok)
}

func TestPublishSingleCopiesToTarget(t *testing.T) {
	bot := &MockBot{}
	p := newTestPublisher(t, bot, testConfig(true))

	bot.On("SendPhoto", mock.Anything, mock.Anything).Return(photoReply(500), nil).Once()
	bot.On("CopyMessage", mock.Anything, mock.MatchedBy(func(params *telego.CopyMessageParams) bool {
		return params.MessageID == 500 && params.ChatID.Username == "@target"
	})).Return(&telego.MessageID{MessageID: 1}, nil).Once()

	err := p.Publish(context.Background(), memoryItem(1, "", telegramapi.KindPhoto, "hi"))
	require.NoError(t, err)

	published, failed, batchesOK, _ := p.Stats()
	assert.Equal(t, int64(1), published)
	assert.Equal(t, int64(0), failed)
	assert.Equal(t, int64(1), batchesOK)
	bot.AssertExpectations(t)
}

func TestPublishGroupReleasedWhenComplete(t *testing.T) {
	bot := &MockBot{}
	p := newTestPublisher(t, bot, testConfig(true))
	p.SetExpectedGroupSizes(map[string]int{"alb": 2})

	bot.On("SendPhoto", mock.Anything, mock.Anything).Return(photoReply(501), nil).Once()
	bot.On("SendPhoto", mock.Anything, mock.Anything).Return(photoReply(502), nil).Once()
	bot.On("SendMediaGroup", mock.Anything, mock.MatchedBy(func(params *telego.SendMediaGroupParams) bool {
		return len(params.Media) == 2
	})).Return([]telego.Message{}, nil).Once()

	require.NoError(t, p.Publish(context.Background(), memoryItem(1, "alb", telegramapi.KindPhoto, "")))
	// Nothing delivered yet: the group is incomplete.
	bot.AssertNotCalled(t, "SendMediaGroup", mock.Anything, mock.Anything)

	require.NoError(t, p.Publish(context.Background(), memoryItem(2, "alb", telegramapi.KindPhoto, "")))
	bot.AssertExpectations(t)
}

func TestPublishStagingFailureAbortsGroup(t *testing.T) {
	bot := &MockBot{}
	cfg := testConfig(true)
	cfg.CleanupAfterFailure = true
	p := newTestPublisher(t, bot, cfg)
	p.SetExpectedGroupSizes(map[string]int{"alb": 3})

	bot.On("SendPhoto", mock.Anything, mock.Anything).Return(photoReply(600), nil).Once()
	bot.On("SendPhoto", mock.Anything, mock.Anything).Return(nil, errors.New("upload failed")).Once()
	bot.On("DeleteMessages", mock.Anything, mock.MatchedBy(func(params *telego.DeleteMessagesParams) bool {
		return len(params.MessageIDs) == 1 && params.MessageIDs[0] == 600
	})).Return(nil).Once()

	require.NoError(t, p.Publish(context.Background(), memoryItem(1, "alb", telegramapi.KindPhoto, "")))
	require.Error(t, p.Publish(context.Background(), memoryItem(2, "alb", telegramapi.KindPhoto, "")))

	// Late siblings of an aborted group are rejected before staging.
	err := p.Publish(context.Background(), memoryItem(3, "alb", telegramapi.KindPhoto, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborted")

	bot.AssertNotCalled(t, "SendMediaGroup", mock.Anything, mock.Anything)
	bot.AssertExpectations(t)
}

func TestPublishRetriesTargetThenSucceeds(t *testing.T) {
	bot := &MockBot{}
	p := newTestPublisher(t, bot, testConfig(true))

	bot.On("SendPhoto", mock.Anything, mock.Anything).Return(photoReply(700), nil).Once()
	bot.On("CopyMessage", mock.Anything, mock.Anything).Return(nil, errors.New("gateway error")).Once()
	bot.On("CopyMessage", mock.Anything, mock.Anything).Return(&telego.MessageID{MessageID: 1}, nil).Once()

	require.NoError(t, p.Publish(context.Background(), memoryItem(1, "", telegramapi.KindPhoto, "")))
	bot.AssertExpectations(t)
}

func TestPublishExhaustedRetriesFailBatch(t *testing.T) {
	bot := &MockBot{}
	p := newTestPublisher(t, bot, testConfig(true))

	bot.On("SendPhoto", mock.Anything, mock.Anything).Return(photoReply(701), nil).Once()
	bot.On("CopyMessage", mock.Anything, mock.Anything).Return(nil, errors.New("gateway error")).Times(3)

	err := p.Publish(context.Background(), memoryItem(1, "", telegramapi.KindPhoto, ""))
	require.Error(t, err)

	_, failed, _, batchesFailed := p.Stats()
	assert.Equal(t, int64(1), failed)
	assert.Equal(t, int64(1), batchesFailed)
	assert.Equal(t, int64(1), p.TargetFailures()["@target"])
	bot.AssertExpectations(t)
}

func TestCaptionDroppedForVoice(t *testing.T) {
	bot := &MockBot{}
	p := newTestPublisher(t, bot, testConfig(true))

	bot.On("SendVoice", mock.Anything, mock.MatchedBy(func(params *telego.SendVoiceParams) bool {
		// Voice sends never carry a caption.
		return true
	})).Return(&telego.Message{MessageID: 800, Voice: &telego.Voice{FileID: "v1"}}, nil).Once()
	bot.On("CopyMessage", mock.Anything, mock.Anything).Return(&telego.MessageID{MessageID: 1}, nil).Once()

	item := memoryItem(1, "", telegramapi.KindVoice, "spoken words")
	require.NoError(t, p.Publish(context.Background(), item))
	bot.AssertExpectations(t)
}
