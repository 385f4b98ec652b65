package gotdclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"

	"tgmirror/pkg/telegramapi"
)

// GetChat resolves channel metadata, caching the input peer for later calls.
func (c *Client) GetChat(ctx context.Context, channel string) (*telegramapi.Chat, error) {
	ch, err := c.resolveChannel(ctx, channel)
	if err != nil {
		return nil, err
	}
	return &telegramapi.Chat{ID: ch.ID, Title: ch.Title, Username: ch.Username}, nil
}

// GetMessages reads up to 200 ids in one call. Deleted or inaccessible ids
// come back as empty placeholders so callers see one entry per requested id.
func (c *Client) GetMessages(ctx context.Context, channel string, ids []int) ([]telegramapi.Message, error) {
	api, err := c.rawAPI()
	if err != nil {
		return nil, err
	}
	ch, err := c.resolveChannel(ctx, channel)
	if err != nil {
		return nil, err
	}

	req := &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
	}
	for _, id := range ids {
		req.ID = append(req.ID, &tg.InputMessageID{ID: id})
	}

	res, err := api.ChannelsGetMessages(ctx, req)
	if err != nil {
		return nil, wrapErr(err)
	}

	var raw []tg.MessageClass
	switch v := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = v.Messages
	case *tg.MessagesMessages:
		raw = v.Messages
	default:
		return nil, fmt.Errorf("unexpected messages response %T", res)
	}

	out := make([]telegramapi.Message, 0, len(raw))
	for _, m := range raw {
		out = append(out, convertMessage(ch.ID, m))
	}
	return out, nil
}

// channelRef is the cached result of one channel resolution.
type channelRef struct {
	ID         int64
	AccessHash int64
	Title      string
	Username   string
}

// resolveChannel turns "@handle", "handle" or a numeric id into a channel
// reference, resolving at most once per handle.
func (c *Client) resolveChannel(ctx context.Context, channel string) (*channelRef, error) {
	c.mu.Lock()
	cached, ok := c.channels[channel]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	api, err := c.rawAPI()
	if err != nil {
		return nil, err
	}

	var resolved *channelRef
	if id, numErr := strconv.ParseInt(channel, 10, 64); numErr == nil {
		cid := id
		// Bot-API style -100 prefix.
		if cid < 0 {
			s := strconv.FormatInt(-cid, 10)
			s = strings.TrimPrefix(s, "100")
			cid, _ = strconv.ParseInt(s, 10, 64)
		}
		res, chErr := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: cid}})
		if chErr != nil {
			return nil, wrapErr(fmt.Errorf("failed to resolve channel id %s: %w", channel, chErr))
		}
		resolved, err = firstChannel(res.GetChats())
	} else {
		username := strings.TrimPrefix(channel, "@")
		res, resErr := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
		if resErr != nil {
			return nil, wrapErr(fmt.Errorf("failed to resolve @%s: %w", username, resErr))
		}
		resolved, err = firstChannel(res.Chats)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.channels[channel] = resolved
	c.mu.Unlock()
	return resolved, nil
}

// firstChannel finds the channel entry in a chats list.
func firstChannel(chats []tg.ChatClass) (*channelRef, error) {
	for _, ch := range chats {
		if channel, ok := ch.(*tg.Channel); ok {
			return &channelRef{
				ID:         channel.ID,
				AccessHash: channel.AccessHash,
				Title:      channel.Title,
				Username:   channel.Username,
			}, nil
		}
	}
	return nil, fmt.Errorf("no channel found in resolve response")
}

// convertMessage flattens one platform message into the pipeline snapshot.
func convertMessage(channelID int64, mc tg.MessageClass) telegramapi.Message {
	msg, ok := mc.(*tg.Message)
	if !ok {
		id := 0
		if e, isEmpty := mc.(*tg.MessageEmpty); isEmpty {
			id = e.ID
		}
		return telegramapi.Message{ChannelID: channelID, ID: id, Empty: true}
	}

	out := telegramapi.Message{ChannelID: channelID, ID: msg.ID}
	if gid, has := msg.GetGroupedID(); has && gid != 0 {
		out.MediaGroupID = strconv.FormatInt(gid, 10)
	}

	media := convertMedia(msg.Media)
	if media != nil {
		out.Media = media
		out.Caption = msg.Message
	} else {
		out.Text = msg.Message
	}
	return out
}

func convertMedia(mm tg.MessageMediaClass) *telegramapi.Media {
	switch m := mm.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		return convertPhoto(photo)
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil
		}
		return convertDocument(doc)
	}
	return nil
}

func convertPhoto(photo *tg.Photo) *telegramapi.Media {
	thumb, size, w, h := largestPhotoSize(photo.Sizes)
	return &telegramapi.Media{
		Kind:   telegramapi.KindPhoto,
		Size:   size,
		Width:  w,
		Height: h,
		Handle: telegramapi.FileHandle{
			MediaID:       photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			DCID:          photo.DCID,
			ThumbSize:     thumb,
			IsPhoto:       true,
		},
	}
}

func largestPhotoSize(sizes []tg.PhotoSizeClass) (thumb string, size int64, w, h int) {
	for _, s := range sizes {
		switch ps := s.(type) {
		case *tg.PhotoSize:
			if int64(ps.Size) >= size {
				thumb, size, w, h = ps.Type, int64(ps.Size), ps.W, ps.H
			}
		case *tg.PhotoSizeProgressive:
			max := 0
			for _, n := range ps.Sizes {
				if n > max {
					max = n
				}
			}
			if int64(max) >= size {
				thumb, size, w, h = ps.Type, int64(max), ps.W, ps.H
			}
		}
	}
	return thumb, size, w, h
}

func convertDocument(doc *tg.Document) *telegramapi.Media {
	media := &telegramapi.Media{
		Kind:     telegramapi.KindDocument,
		MimeType: doc.MimeType,
		Size:     doc.Size,
		Handle: telegramapi.FileHandle{
			MediaID:       doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
			DCID:          doc.DCID,
		},
	}

	var animated bool
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			media.FileName = a.FileName
		case *tg.DocumentAttributeVideo:
			media.Width, media.Height = a.W, a.H
			media.Duration = int(a.Duration)
			if a.RoundMessage {
				media.Kind = telegramapi.KindVideoNote
			} else if media.Kind == telegramapi.KindDocument {
				media.Kind = telegramapi.KindVideo
			}
		case *tg.DocumentAttributeAudio:
			media.Duration = a.Duration
			if a.Voice {
				media.Kind = telegramapi.KindVoice
			} else {
				media.Kind = telegramapi.KindAudio
			}
		case *tg.DocumentAttributeSticker:
			media.Kind = telegramapi.KindSticker
		case *tg.DocumentAttributeAnimated:
			animated = true
		}
	}
	if animated {
		media.Kind = telegramapi.KindAnimation
	}
	return media
}
