package adapter

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// Send delivers a text or media message to a group.
func (wa *WhatsAppClient) Send(ctx context.Context, target string, payload session.Payload) (session.Receipt, error) {
	cli, err := wa.connected()
	if err != nil {
		return session.Receipt{}, err
	}

	jid, err := types.ParseJID(target)
	if err != nil {
		return session.Receipt{}, fmt.Errorf("invalid JID: %w", err)
	}

	var msg *waE2E.Message
	if payload.Media != nil {
		msg, err = wa.buildMediaMessage(ctx, cli, payload)
		if err != nil {
			return session.Receipt{}, err
		}
	} else {
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(payload.Text),
			},
		}
	}

	resp, err := cli.SendMessage(ctx, jid, msg)
	if err != nil {
		return session.Receipt{}, err
	}
	return session.Receipt{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (wa *WhatsAppClient) buildMediaMessage(ctx context.Context, cli *whatsmeow.Client, payload session.Payload) (*waE2E.Message, error) {
	media := payload.Media
	data, err := os.ReadFile(media.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}

	mimeType := media.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	mType := mediaTypeFor(mimeType)

	uploaded, err := cli.Upload(ctx, data, mType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload media: %w", err)
	}

	var caption *string
	if payload.Text != "" {
		caption = proto.String(payload.Text)
	}

	switch mType {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       caption,
		}}, nil
	case whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       caption,
		}}, nil
	case whatsmeow.MediaAudio:
		// Audio messages carry no caption.
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}, nil
	default:
		fileName := media.FileName
		if fileName == "" {
			fileName = filepath.Base(media.Path)
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileName:      proto.String(fileName),
			Title:         proto.String(fileName),
			Caption:       caption,
		}}, nil
	}
}

func mediaTypeFor(mimeType string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}
