package telegram

import (
	"context"
	"sort"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"stockwatch/internal/inventory"
	"stockwatch/internal/registry"
	logx "stockwatch/pkg/logx"
)

// GeneralName is the candidate name of a chat's main thread.
const GeneralName = "general"

type topic struct {
	threadID int
	name     string
}

type groupState struct {
	title  string
	topics []topic // discovery order
}

func (a *Adapter) ensureGroup(id int64, title string) *groupState {
	g, ok := a.groups[id]
	if !ok {
		g = &groupState{}
		a.groups[id] = g
	}
	if title != "" {
		g.title = title
	}
	return g
}

func isGroupChat(c *tele.Chat) bool {
	return c != nil && (c.Type == tele.ChatGroup || c.Type == tele.ChatSuperGroup)
}

func (a *Adapter) trackChat(c *tele.Chat) {
	if !isGroupChat(c) {
		return
	}
	a.mu.Lock()
	_, known := a.groups[c.ID]
	a.ensureGroup(c.ID, c.Title)
	a.mu.Unlock()
	if !known {
		a.log.Info("joined group", logx.Int64("chat", c.ID), logx.String("title", c.Title))
	}
}

func (a *Adapter) forget(id int64, reason string) {
	a.mu.Lock()
	_, known := a.groups[id]
	delete(a.groups, id)
	a.mu.Unlock()
	if known {
		a.log.Info("left group", logx.Int64("chat", id), logx.String("reason", reason))
	}
}

func (a *Adapter) addTopic(chatID int64, threadID int, name string) {
	if threadID <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	g := a.ensureGroup(chatID, "")
	for i := range g.topics {
		if g.topics[i].threadID == threadID {
			if name != "" {
				g.topics[i].name = name
			}
			return
		}
	}
	g.topics = append(g.topics, topic{threadID: threadID, name: name})
}

func (a *Adapter) migrate(from, to int64) {
	if from == 0 || to == 0 {
		return
	}
	a.mu.Lock()
	if g, ok := a.groups[from]; ok {
		delete(a.groups, from)
		a.groups[to] = g
	} else {
		a.ensureGroup(to, "")
	}
	a.mu.Unlock()
	a.log.Info("group migrated", logx.Int64("from", from), logx.Int64("to", to))
}

// Seed restores membership from stored channel records, including the
// selected forum topic, which Telegram offers no way to list.
func (a *Adapter) Seed(records []inventory.ChannelRecord) {
	for _, rec := range records {
		id, err := strconv.ParseInt(rec.GroupID, 10, 64)
		if err != nil {
			a.log.Warn("ignoring stored channel with non-telegram group id", logx.String("group", rec.GroupID))
			continue
		}
		a.mu.Lock()
		a.ensureGroup(id, rec.GroupName)
		a.mu.Unlock()
		if chatID, threadID, err := ParseChannelID(rec.ChannelID); err == nil && chatID == id && threadID > 0 {
			a.addTopic(id, threadID, rec.ChannelName)
		}
	}
}

// CurrentGroups verifies every tracked chat and returns the ones the bot can
// still reach. Unreachable chats are dropped; any other lookup error aborts.
func (a *Adapter) CurrentGroups(ctx context.Context) ([]registry.Group, error) {
	a.mu.Lock()
	ids := make([]int64, 0, len(a.groups))
	for id := range a.groups {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]registry.Group, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chat, err := a.lookup(id)
		if err != nil {
			if isGone(err) {
				a.forget(id, "chat unreachable")
				continue
			}
			return nil, err
		}
		if !isGroupChat(chat) {
			a.forget(id, "not a group")
			continue
		}

		a.mu.Lock()
		g := a.ensureGroup(id, chat.Title)
		topics := append([]topic(nil), g.topics...)
		a.mu.Unlock()

		cands := []registry.Candidate{{ID: FormatChannelID(id, 0), Name: GeneralName}}
		if chat.IsForum {
			for _, t := range topics {
				cands = append(cands, registry.Candidate{ID: FormatChannelID(id, t.threadID), Name: t.name})
			}
		}
		out = append(out, registry.Group{ID: strconv.FormatInt(id, 10), Name: chat.Title, Candidates: cands})
	}
	return out, nil
}
