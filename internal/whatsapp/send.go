package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"zideebot/internal/domain"
)

// SendText sends text to chatID, quoting replyTo when set.
func (c *Client) SendText(ctx context.Context, chatID, text, replyTo string) error {
	if !c.Online() {
		return ErrNotConnected
	}
	to, err := parseJID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	msg := &waE2E.Message{Conversation: proto.String(text)}
	if replyTo != "" {
		msg = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: &waE2E.ContextInfo{StanzaID: proto.String(replyTo)},
		}}
	}
	if _, err := c.waClient().SendMessage(ctx, to, msg); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendMedia uploads the local file and sends it. The file is left in place.
func (c *Client) SendMedia(ctx context.Context, chatID string, media domain.Media, replyTo string) error {
	if !c.Online() {
		return ErrNotConnected
	}
	to, err := parseJID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	data, err := os.ReadFile(media.Path)
	if err != nil {
		return fmt.Errorf("read media: %w", err)
	}

	up, err := c.waClient().Upload(ctx, data, uploadType(media.Kind))
	if err != nil {
		return fmt.Errorf("upload media: %w", err)
	}
	msg := mediaMessage(media, up)
	if replyTo != "" {
		setContext(msg, &waE2E.ContextInfo{StanzaID: proto.String(replyTo)})
	}
	if _, err := c.waClient().SendMessage(ctx, to, msg); err != nil {
		return fmt.Errorf("send media: %w", err)
	}
	return nil
}

func uploadType(kind domain.MediaKind) whatsmeow.MediaType {
	switch kind {
	case domain.MediaVideo:
		return whatsmeow.MediaVideo
	case domain.MediaAudio:
		return whatsmeow.MediaAudio
	case domain.MediaImage:
		return whatsmeow.MediaImage
	}
	return whatsmeow.MediaDocument
}

func defaultMimetype(kind domain.MediaKind) string {
	switch kind {
	case domain.MediaVideo:
		return "video/mp4"
	case domain.MediaAudio:
		return "audio/mpeg"
	case domain.MediaImage:
		return "image/jpeg"
	}
	return "application/octet-stream"
}

func mediaMessage(media domain.Media, up whatsmeow.UploadResponse) *waE2E.Message {
	mime := media.Mimetype
	if mime == "" {
		mime = defaultMimetype(media.Kind)
	}
	var caption *string
	if media.Caption != "" {
		caption = proto.String(media.Caption)
	}

	switch media.Kind {
	case domain.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       caption,
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case domain.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case domain.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       caption,
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		Caption:       caption,
		FileName:      proto.String(filepath.Base(media.Path)),
		Mimetype:      proto.String(mime),
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}}
}

func setContext(msg *waE2E.Message, ci *waE2E.ContextInfo) {
	switch {
	case msg.VideoMessage != nil:
		msg.VideoMessage.ContextInfo = ci
	case msg.AudioMessage != nil:
		msg.AudioMessage.ContextInfo = ci
	case msg.ImageMessage != nil:
		msg.ImageMessage.ContextInfo = ci
	case msg.DocumentMessage != nil:
		msg.DocumentMessage.ContextInfo = ci
	}
}
