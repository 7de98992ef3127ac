package telegram

import (
	"time"

	"github.com/mymmrac/telego"

	"github.com/aatumaykin/sweepbot/internal/chat"
)

// toChatMessage converts a Telegram message into the platform-neutral form
// stored in the history index. Photos keep only the largest size.
func toChatMessage(msg *telego.Message) chat.Message {
	out := chat.Message{
		ID:        int64(msg.MessageID),
		ChannelID: msg.Chat.ID,
		Timestamp: time.Unix(msg.Date, 0).UTC(),
	}

	if len(msg.Photo) > 0 {
		largest := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.Width*p.Height > largest.Width*largest.Height {
				largest = p
			}
		}
		out.Attachments = append(out.Attachments, chat.Attachment{
			Kind:     chat.KindPhoto,
			FileID:   largest.FileID,
			MimeType: "image/jpeg",
			Size:     int64(largest.FileSize),
		})
	}
	if d := msg.Document; d != nil {
		out.Attachments = append(out.Attachments, chat.Attachment{
			Kind: chat.KindDocument, FileID: d.FileID, FileName: d.FileName,
			MimeType: d.MimeType, Size: int64(d.FileSize),
		})
	}
	if v := msg.Video; v != nil {
		out.Attachments = append(out.Attachments, chat.Attachment{
			Kind: chat.KindVideo, FileID: v.FileID, FileName: v.FileName,
			MimeType: v.MimeType, Size: int64(v.FileSize),
		})
	}
	if a := msg.Animation; a != nil {
		out.Attachments = append(out.Attachments, chat.Attachment{
			Kind: chat.KindAnimation, FileID: a.FileID, FileName: a.FileName,
			MimeType: a.MimeType, Size: int64(a.FileSize),
		})
	}
	if a := msg.Audio; a != nil {
		out.Attachments = append(out.Attachments, chat.Attachment{
			Kind: chat.KindAudio, FileID: a.FileID, FileName: a.FileName,
			MimeType: a.MimeType, Size: int64(a.FileSize),
		})
	}
	if v := msg.Voice; v != nil {
		out.Attachments = append(out.Attachments, chat.Attachment{
			Kind: chat.KindVoice, FileID: v.FileID,
			MimeType: v.MimeType, Size: int64(v.FileSize),
		})
	}
	if v := msg.VideoNote; v != nil {
		out.Attachments = append(out.Attachments, chat.Attachment{
			Kind: chat.KindVideoNote, FileID: v.FileID,
			MimeType: "video/mp4", Size: int64(v.FileSize),
		})
	}

	return out
}
