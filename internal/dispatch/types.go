// Package dispatch announces unnotified sold-out and removed products to
// every registered channel and marks them notified.
package dispatch

import (
	"context"
	"time"

	"stockwatch/internal/inventory"
	"stockwatch/internal/transport"
)

// DefaultTemplate renders a Telegram HTML message.
const DefaultTemplate = "商品狀態更新通知：<b>{{html .Name}}</b>\n狀態：{{.Status}}"

// Config controls delivery. Zero values get defaults.
type Config struct {
	Concurrency   int // parallel sends per record
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	Template      string
	ParseMode     string
	Labels        inventory.Labels
}

// Transport delivers one message to one channel.
type Transport interface {
	Send(ctx context.Context, channelID string, msg transport.Message) error
}

// ImageFetcher downloads product images.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Report summarizes one Dispatch call.
type Report struct {
	Selected   int // records eligible at the start of the run
	Notified   int // records marked notified
	Deferred   int // records left for the next run (registry unreadable)
	MarkFailed int // records whose mark could not be written
	Stale      int // records whose status moved before marking
	Attempts   int // channel sends attempted
	Failures   int // channel sends that failed after retries
	TextOnly   int // records sent without their image
}

// TemplateData is the value the message template is executed with.
type TemplateData struct {
	Name       string
	Status     string // display label
	StatusCode string
	ImageURL   string
	UpdatedAt  time.Time
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, channelID string, msg transport.Message) error

func (f TransportFunc) Send(ctx context.Context, channelID string, msg transport.Message) error {
	return f(ctx, channelID, msg)
}
