// Package telegram posts finished meetings to a Telegram chat and answers
// a few read-only commands from that chat.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/notetaker/internal/hub"
	"github.com/user/notetaker/internal/types"
)

const maxTelegramMessage = 4096

// outboxSize bounds messages waiting for the Telegram API.
const outboxSize = 64

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Notifier is a hub observer. Each meeting that reaches a terminal status
// is posted once to the configured chat.
type Notifier struct {
	bot    botAPI
	chatID int64
	store  types.MeetingStore
	logger *slog.Logger

	outbox chan string
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	notified map[types.MeetingID]struct{}
}

// New creates a Notifier for the given bot token and chat.
func New(token string, chatID int64, store types.MeetingStore, logger *slog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return newNotifier(bot, chatID, store, logger), nil
}

func newNotifier(bot botAPI, chatID int64, store types.MeetingStore, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		bot:      bot,
		chatID:   chatID,
		store:    store,
		logger:   logger,
		outbox:   make(chan string, outboxSize),
		done:     make(chan struct{}),
		notified: make(map[types.MeetingID]struct{}),
	}
}

type envelope struct {
	Type    hub.EventType   `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Send implements hub.Conn. It never blocks on the Telegram API; messages
// are queued and delivered by Run.
func (n *Notifier) Send(ctx context.Context, data []byte) error {
	select {
	case <-n.done:
		return fmt.Errorf("notifier closed")
	default:
	}

	var ev envelope
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil
	}
	if ev.Type == hub.EventMeetingDeleted {
		var gone struct {
			ID types.MeetingID `json:"id"`
		}
		if err := json.Unmarshal(ev.Payload, &gone); err == nil {
			n.forget(gone.ID)
		}
		return nil
	}
	if ev.Type != hub.EventMeetingUpdated {
		return nil
	}
	var m types.Meeting
	if err := json.Unmarshal(ev.Payload, &m); err != nil {
		n.logger.Warn("telegram: bad meeting payload", "error", err)
		return nil
	}
	if !m.Status.Terminal() || !n.markNotified(m.ID) {
		return nil
	}

	select {
	case n.outbox <- FormatMeeting(&m):
	case <-ctx.Done():
		n.logger.Warn("telegram: dropped notification", "meeting_id", string(m.ID), "error", ctx.Err())
	}
	return nil
}

func (n *Notifier) markNotified(id types.MeetingID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.notified[id]; ok {
		return false
	}
	n.notified[id] = struct{}{}
	return true
}

// forget drops a deleted meeting from the notified set. Ids are never
// reused, so it cannot be posted twice.
func (n *Notifier) forget(id types.MeetingID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.notified, id)
}

// Close implements hub.Conn.
func (n *Notifier) Close() error {
	n.once.Do(func() { close(n.done) })
	return nil
}

// Run delivers queued notifications until ctx is done or the notifier is
// closed.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case text := <-n.outbox:
			n.sendText(n.chatID, text)
		case <-n.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Listen long-polls for commands from the configured chat.
func (n *Notifier) Listen(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := n.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat == nil || update.Message.Chat.ID != n.chatID {
				continue
			}
			n.sendText(n.chatID, n.handleCommand(ctx, update.Message.Command(), update.Message.CommandArguments()))
		case <-ctx.Done():
			n.bot.StopReceivingUpdates()
			return
		}
	}
}

func (n *Notifier) handleCommand(ctx context.Context, cmd, args string) string {
	switch cmd {
	case "start":
		return "Hello! I post finished meetings here. Commands: /list, /show <id>"

	case "list":
		meetings, err := n.store.List(ctx)
		if err != nil {
			n.logger.Error("telegram: list meetings", "error", err)
			return "Error fetching meetings."
		}
		if len(meetings) == 0 {
			return "No meetings yet."
		}
		if len(meetings) > 10 {
			meetings = meetings[:10]
		}
		var b strings.Builder
		for _, m := range meetings {
			fmt.Fprintf(&b, "%s  %s  [%s]\n", m.ID, m.Title, m.Status)
		}
		return b.String()

	case "show":
		id := types.MeetingID(strings.TrimSpace(args))
		if id == "" {
			return "Usage: /show <id>"
		}
		m, err := n.store.Get(ctx, id)
		if err != nil {
			return fmt.Sprintf("Meeting %s not found.", id)
		}
		return FormatMeeting(m)

	default:
		return "Unknown command. Available: /start, /list, /show <id>"
	}
}

func (n *Notifier) sendText(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		if _, err := n.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			n.logger.Error("telegram: send message", "chat_id", chatID, "error", err)
		}
	}
}

// FormatMeeting renders a plain-text digest of m.
func FormatMeeting(m *types.Meeting) string {
	var b strings.Builder
	switch m.Status {
	case types.StatusCompleted:
		fmt.Fprintf(&b, "Meeting completed: %s\n", m.Title)
	case types.StatusFailed:
		fmt.Fprintf(&b, "Meeting failed: %s\n", m.Title)
	default:
		fmt.Fprintf(&b, "Meeting %s: %s\n", m.Status, m.Title)
	}
	fmt.Fprintf(&b, "ID: %s\n", m.ID)

	if m.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", m.Summary)
	}
	writeList(&b, "Action items", m.ActionItems)
	writeList(&b, "Decisions", m.Decisions)
	return strings.TrimRight(b.String(), "\n")
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
