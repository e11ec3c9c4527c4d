package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidChannel is returned when a channel id cannot be mapped to a destination.
var ErrInvalidChannel = errors.New("invalid channel id")

// Message is a platform-neutral outbound message.
type Message struct {
	Text           string
	ParseMode      string // "HTML", "Markdown" or "" for plain text
	DisablePreview bool

	// Image is optional. When set, the adapter sends a photo and uses Text as caption.
	Image     []byte
	ImageName string
}

// HasImage reports whether the message carries an attachment.
func (m Message) HasImage() bool { return len(m.Image) > 0 }

// Sender delivers a message to one channel.
//
// Channel ids are opaque to callers; each adapter documents its own format.
type Sender interface {
	Send(ctx context.Context, channelID string, msg Message) error
}

// SendError is a per-channel delivery failure.
type SendError struct {
	ChannelID string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.ChannelID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
