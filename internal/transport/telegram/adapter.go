// Package telegram is the Telegram transport: it delivers notifications to
// group chats and forum topics and tracks which groups the bot belongs to.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"stockwatch/internal/runtime/supervisor"
	"stockwatch/internal/transport"
	logx "stockwatch/pkg/logx"
)

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	// lookup resolves a chat; it is bot.ChatByID outside tests.
	lookup func(id int64) (*tele.Chat, error)

	mu     sync.Mutex
	groups map[int64]*groupState

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	return newAdapter(cfg, log, false)
}

func newAdapter(cfg Config, log logx.Logger, offline bool) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimSpace(cfg.APIURL),
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: offline,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:    cfg,
		log:    log,
		bot:    b,
		groups: map[int64]*groupState{},
	}
	a.lookup = b.ChatByID
	for _, id := range cfg.Groups {
		a.ensureGroup(id, "")
	}
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		a.trackChat(m.Chat)
		probe := strings.TrimSpace(a.cfg.ProbeText)
		if probe == "" || !strings.EqualFold(strings.TrimSpace(m.Text), probe) {
			return nil
		}
		reply := a.cfg.ProbeReply
		if reply == "" {
			reply = "hi"
		}
		_, err := a.bot.Send(m.Chat, reply, &tele.SendOptions{ThreadID: m.ThreadID})
		return err
	})

	a.bot.Handle(tele.OnAddedToGroup, func(c tele.Context) error {
		a.trackChat(c.Chat())
		return nil
	})

	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		upd := c.ChatMember()
		if upd == nil || upd.Chat == nil || upd.NewChatMember == nil {
			return nil
		}
		switch upd.NewChatMember.Role {
		case tele.Left, tele.Kicked:
			a.forget(upd.Chat.ID, string(upd.NewChatMember.Role))
		default:
			a.trackChat(upd.Chat)
		}
		return nil
	})

	a.bot.Handle(tele.OnTopicCreated, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil || m.TopicCreated == nil {
			return nil
		}
		a.trackChat(m.Chat)
		a.addTopic(m.Chat.ID, m.ThreadID, m.TopicCreated.Name)
		return nil
	})

	a.bot.Handle(tele.OnMigration, func(c tele.Context) error {
		from, to := c.Migration()
		a.migrate(from, to)
		return nil
	})
}

// Start begins long polling. It returns immediately.
func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	sup := a.sup

	sup.Go("telebot.stop_on_cancel", func(c context.Context) error {
		<-c.Done()
		a.bot.Stop()
		return nil
	})

	// Start can return in some failure modes; restart it while the context lives.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.bot.Me.Username))
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop ends polling, waiting at most a short grace period.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()
	if !wasRunning || sup == nil {
		return nil
	}

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Stop(wctx); err != nil {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

// Send implements transport.Sender. Images are sent as a photo with the text
// as caption; text that does not fit a caption follows as separate messages.
func (a *Adapter) Send(ctx context.Context, channelID string, msg transport.Message) error {
	chatID, threadID, err := ParseChannelID(channelID)
	if err != nil {
		return &transport.SendError{ChannelID: channelID, Err: err}
	}
	chat := &tele.Chat{ID: chatID}
	opt := &tele.SendOptions{
		ParseMode:             parseMode(msg.ParseMode),
		DisableWebPagePreview: msg.DisablePreview,
		ThreadID:              threadID,
	}

	text := msg.Text
	if msg.HasImage() {
		photo := &tele.Photo{File: tele.FromReader(bytes.NewReader(msg.Image))}
		if utf8.RuneCountInString(text) <= captionLimit {
			photo.Caption = text
			text = ""
		}
		if _, err := a.bot.Send(chat, photo, opt); err != nil {
			return a.sendFailed(channelID, chatID, err)
		}
	}
	if text == "" {
		return nil
	}

	for _, chunk := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return &transport.SendError{ChannelID: channelID, Err: err}
		}
		if _, err := a.bot.Send(chat, chunk, opt); err != nil {
			return a.sendFailed(channelID, chatID, err)
		}
	}
	return nil
}

// sendFailed wraps err for the caller. A chat the bot can no longer reach is
// reported as ErrInvalidChannel so it is not retried.
func (a *Adapter) sendFailed(channelID string, chatID int64, err error) error {
	if isGone(err) {
		a.forget(chatID, "send rejected")
		err = fmt.Errorf("%w: %w", transport.ErrInvalidChannel, err)
	}
	return &transport.SendError{ChannelID: channelID, Err: err}
}

func parseMode(m string) tele.ParseMode {
	switch strings.ToLower(strings.TrimSpace(m)) {
	case "", "none", "plain":
		return tele.ModeDefault
	case "html":
		return tele.ModeHTML
	case "markdown":
		return tele.ModeMarkdown
	case "markdownv2":
		return tele.ModeMarkdownV2
	default:
		return m
	}
}

// isGone reports errors meaning the bot can no longer reach the chat.
func isGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, tele.ErrChatNotFound) ||
		errors.Is(err, tele.ErrKickedFromGroup) ||
		errors.Is(err, tele.ErrKickedFromSuperGroup) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "chat not found") ||
		strings.Contains(s, "bot was kicked") ||
		strings.Contains(s, "bot is not a member")
}
