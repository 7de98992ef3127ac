// Package chat holds the platform-neutral message types shared by the cleanup
// pipeline, the history index and the Telegram adapter.
package chat

import (
	"strings"
	"time"
)

// AttachmentKind identifies the kind of file attached to a message.
type AttachmentKind string

const (
	KindPhoto     AttachmentKind = "photo"
	KindVideo     AttachmentKind = "video"
	KindAnimation AttachmentKind = "animation"
	KindVideoNote AttachmentKind = "video_note"
	KindAudio     AttachmentKind = "audio"
	KindVoice     AttachmentKind = "voice"
	KindDocument  AttachmentKind = "document"
)

// Attachment describes one file attached to a message.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	FileID   string         `json:"file_id"`
	FileName string         `json:"file_name"`
	MimeType string         `json:"mime_type,omitempty"`
	Size     int64          `json:"size,omitempty"`
}

// IsMedia reports whether the attachment must be backed up before its message
// may be deleted. Documents count only when they carry image, video or audio.
func (a Attachment) IsMedia() bool {
	if a.Kind != KindDocument {
		return true
	}
	mime := strings.ToLower(a.MimeType)
	return strings.HasPrefix(mime, "image/") ||
		strings.HasPrefix(mime, "video/") ||
		strings.HasPrefix(mime, "audio/")
}

// Message is a chat message as seen by the retention pipeline.
type Message struct {
	ID          int64
	ChannelID   int64
	Timestamp   time.Time
	Attachments []Attachment
}

// Media returns the attachments that require a backup.
func (m Message) Media() []Attachment {
	var media []Attachment
	for _, a := range m.Attachments {
		if a.IsMedia() {
			media = append(media, a)
		}
	}
	return media
}
