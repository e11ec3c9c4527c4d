package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path"
	"strings"
	"sync"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"stockwatch/internal/inventory"
	"stockwatch/internal/transport"
	logx "stockwatch/pkg/logx"
)

// Dispatcher is safe for concurrent use; Apply may run while a dispatch is
// in progress and takes effect on the next record.
type Dispatcher struct {
	products inventory.ProductStore
	channels inventory.ChannelStore
	tr       Transport
	images   ImageFetcher
	log      logx.Logger

	mu      sync.Mutex
	cfg     Config
	tmpl    *template.Template
	limiter *rate.Limiter
}

// New builds a Dispatcher. images may be nil, in which case every message is text-only.
func New(cfg Config, products inventory.ProductStore, channels inventory.ChannelStore, tr Transport, images ImageFetcher, log logx.Logger) (*Dispatcher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		products: products,
		channels: channels,
		tr:       tr,
		images:   images,
		log:      log,
	}
	if err := d.Apply(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// Apply swaps the delivery settings. An invalid template leaves the current settings in place.
func (d *Dispatcher) Apply(cfg Config) error {
	cfg = withDefaults(cfg)
	tmpl, err := ParseTemplate(cfg.Template)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = cfg
	d.tmpl = tmpl
	// Token bucket: burst = rate per sec.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	d.mu.Unlock()
	return nil
}

func withDefaults(cfg Config) Config {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Template) == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "HTML"
	}
	labels := inventory.DefaultLabels()
	for k, v := range cfg.Labels {
		if v != "" {
			labels[k] = v
		}
	}
	cfg.Labels = labels
	return cfg
}

// ParseTemplate compiles a message template.
func ParseTemplate(src string) (*template.Template, error) {
	if strings.TrimSpace(src) == "" {
		src = DefaultTemplate
	}
	t, err := template.New("message").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("dispatch template: %w", err)
	}
	return t, nil
}

func (d *Dispatcher) snapshot() (Config, *template.Template, *rate.Limiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.tmpl, d.limiter
}

// Dispatch announces every unnotified sold-out or removed product.
//
// For each record all registered channels are attempted before the record is
// marked, whatever the outcome of each send. A record is left unnotified only
// when the channel list cannot be read or the mark itself fails. The error is
// non-nil when the selection query fails or ctx ends the run.
func (d *Dispatcher) Dispatch(ctx context.Context) (Report, error) {
	var rep Report
	pending, err := d.products.ListUnnotified(ctx, inventory.NotifyWorthyStatuses()...)
	if err != nil {
		return rep, err
	}
	rep.Selected = len(pending)
	if len(pending) == 0 {
		d.log.Debug("nothing to dispatch")
		return rep, nil
	}

	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		d.dispatchOne(ctx, rec, &rep)
	}

	d.log.Info("dispatch finished",
		logx.Int("selected", rep.Selected),
		logx.Int("notified", rep.Notified),
		logx.Int("attempts", rep.Attempts),
		logx.Int("failures", rep.Failures),
		logx.Int("deferred", rep.Deferred),
	)
	return rep, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, rec inventory.ProductRecord, rep *Report) {
	log := d.log.With(logx.String("product", rec.Name), logx.String("status", string(rec.Status)))
	cfg, tmpl, lim := d.snapshot()

	channels, err := d.channels.ListChannels(ctx)
	if err != nil {
		rep.Deferred++
		log.Error("channel registry unreadable; record deferred", logx.Err(err))
		return
	}

	if len(channels) > 0 {
		msg := transport.Message{
			Text:      render(tmpl, cfg.Labels, rec, log),
			ParseMode: cfg.ParseMode,
		}
		if rec.ImageURL != "" && d.images != nil {
			img, err := d.images.Fetch(ctx, rec.ImageURL)
			if err != nil {
				rep.TextOnly++
				log.Warn("image fetch failed; sending text only", logx.String("url", rec.ImageURL), logx.Err(err))
			} else {
				msg.Image = img
				msg.ImageName = imageName(rec.ImageURL)
			}
		}

		var (
			g      errgroup.Group
			failMu sync.Mutex
			failed int
		)
		g.SetLimit(cfg.Concurrency)
		for _, ch := range channels {
			ch := ch
			g.Go(func() error {
				if err := d.sendWithRetry(ctx, cfg, lim, ch.ChannelID, msg, log); err != nil {
					failMu.Lock()
					failed++
					failMu.Unlock()
					log.Warn("channel send failed", logx.String("group", ch.GroupName), logx.Err(err))
				}
				return nil
			})
		}
		_ = g.Wait()
		rep.Attempts += len(channels)
		rep.Failures += failed
	} else {
		log.Debug("no channels registered")
	}

	marked, err := d.products.MarkNotified(ctx, rec.Name, rec.Status)
	switch {
	case err != nil:
		rep.MarkFailed++
		log.Error("mark notified failed; record may be announced again", logx.Err(err))
	case !marked:
		rep.Stale++
		log.Info("record changed during dispatch; left for next run")
	default:
		rep.Notified++
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, cfg Config, lim *rate.Limiter, channelID string, msg transport.Message, log logx.Logger) error {
	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return &transport.SendError{ChannelID: channelID, Err: err}
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := d.tr.Send(callCtx, channelID, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, transport.ErrInvalidChannel) {
			break
		}
		log.Debug("send attempt failed", logx.String("channel", channelID), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))
		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return &transport.SendError{ChannelID: channelID, Err: ctx.Err()}
		}
	}
	var se *transport.SendError
	if errors.As(lastErr, &se) {
		return lastErr
	}
	return &transport.SendError{ChannelID: channelID, Err: lastErr}
}

func render(tmpl *template.Template, labels inventory.Labels, rec inventory.ProductRecord, log logx.Logger) string {
	data := TemplateData{
		Name:       rec.Name,
		Status:     labels.For(rec.Status),
		StatusCode: string(rec.Status),
		ImageURL:   rec.ImageURL,
		UpdatedAt:  rec.LastUpdated,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.Warn("template failed; using plain text", logx.Err(err))
		return fmt.Sprintf("商品狀態更新通知：%s\n狀態：%s", template.HTMLEscapeString(data.Name), data.Status)
	}
	return buf.String()
}

func imageName(u string) string {
	u = strings.SplitN(u, "?", 2)[0]
	name := path.Base(u)
	if name == "" || name == "." || name == "/" {
		return "image.jpg"
	}
	return name
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	return d
}
