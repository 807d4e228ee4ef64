// Package bot runs the Telegram front end: long-polls for updates, buffers
// group messages, and routes commands through the enforcement pipeline.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"summarybot/internal/ai"
	"summarybot/internal/common/logger"
	"summarybot/internal/enforcement"
	"summarybot/pkg/telegram"
)

// historySize bounds the per-chat ring buffer fed to the summarizer.
const historySize = 200

const startMessage = "Hi! Add me to a group and I'll summarize the conversation on /summarize.\n\n" +
	"Free plan: 5 summaries/day, 100/month, up to 3 groups. /upgrade for unlimited."

const upgradeMessage = "Premium removes all limits: unlimited summaries in unlimited groups.\n" +
	"Complete your purchase here: https://t.me/your_bot_payments"

// Bot wires the Telegram client to the enforcement pipeline and summarizer.
type Bot struct {
	tg       *telegram.Client
	pipeline *enforcement.Pipeline
	provider ai.Provider
	logger   logger.Logger

	mu      sync.Mutex
	history map[int64][]string
}

func New(tg *telegram.Client, pipeline *enforcement.Pipeline, provider ai.Provider, log logger.Logger) *Bot {
	return &Bot{
		tg:       tg,
		pipeline: pipeline,
		provider: provider,
		logger:   log.WithFields(map[string]interface{}{"component": "bot"}),
		history:  make(map[int64][]string),
	}
}

// Messenger adapts the Telegram client to the direct-message interface the
// enforcement and reconciler packages notify through. A user's private chat ID
// equals their user ID.
type Messenger struct {
	tg *telegram.Client
}

func NewMessenger(tg *telegram.Client) *Messenger {
	return &Messenger{tg: tg}
}

func (m *Messenger) SendDirectMessage(ctx context.Context, userID int64, text string) error {
	return m.tg.SendMessage(ctx, userID, text)
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("bot polling started", nil)
	offset := 0
	for {
		if ctx.Err() != nil {
			b.logger.Info("bot polling stopped", nil)
			return
		}

		updates, err := b.tg.GetUpdates(ctx, offset, 30)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			b.logger.Error("update poll failed", map[string]interface{}{"error": err.Error()})
			time.Sleep(2 * time.Second)
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil {
				continue
			}
			b.handleMessage(ctx, u.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	cmd := command(msg.Text)
	switch cmd {
	case "/start":
		b.reply(ctx, msg.Chat.ID, startMessage)
	case "/upgrade":
		b.reply(ctx, msg.Chat.ID, upgradeMessage)
	case "/usage":
		b.handleUsage(ctx, msg)
	case "/summarize":
		b.handleSummarize(ctx, msg)
	default:
		if cmd == "" && msg.Chat.IsGroup() && msg.Text != "" {
			b.remember(msg.Chat.ID, msg)
		}
	}
}

func (b *Bot) handleSummarize(ctx context.Context, msg *telegram.Message) {
	if !msg.Chat.IsGroup() {
		b.reply(ctx, msg.Chat.ID, "Summaries work in group chats. Add me to a group first.")
		return
	}
	if msg.From == nil {
		return
	}

	res := b.pipeline.Enforce(ctx, msg.From.ID, msg.Chat.ID)
	if !res.Proceed {
		// The denial DM goes out on the enforcement path; in the group, the
		// trigger message is removed so the chat doesn't fill with refusals.
		if err := b.tg.DeleteMessage(ctx, msg.Chat.ID, msg.MessageID); err != nil {
			b.logger.Warn("could not delete denied trigger", map[string]interface{}{
				"chatId": msg.Chat.ID,
				"error":  err.Error(),
			})
		}
		return
	}

	messages := b.recall(msg.Chat.ID)
	if len(messages) == 0 {
		b.reply(ctx, msg.Chat.ID, "Nothing to summarize yet.")
		return
	}

	summary, err := b.provider.Summarize(ctx, messages)
	if err != nil {
		b.logger.Error("summarization failed", map[string]interface{}{
			"chatId": msg.Chat.ID,
			"error":  err.Error(),
		})
		b.reply(ctx, msg.Chat.ID, "Couldn't generate a summary right now, try again in a bit.")
		return
	}
	b.reply(ctx, msg.Chat.ID, summary)
}

func (b *Bot) handleUsage(ctx context.Context, msg *telegram.Message) {
	if msg.From == nil {
		return
	}
	summary, err := b.pipeline.UsageSummary(ctx, msg.From.ID)
	if err != nil {
		b.reply(ctx, msg.Chat.ID, "Usage is unavailable right now, try again in a bit.")
		return
	}
	b.reply(ctx, msg.Chat.ID, FormatUsage(summary))
}

// FormatUsage renders the /usage reply.
func FormatUsage(s *enforcement.Summary) string {
	if s.Tier == "premium" {
		until := ""
		if s.PremiumExpiresAt != nil {
			until = " until " + s.PremiumExpiresAt.Format("2 Jan 2006")
		}
		return "Premium" + until + " · unlimited summaries"
	}
	return fmt.Sprintf("Today: %d/%d · Month: %d/%d · Groups: %d/%d (Free)",
		s.DailyUsed, s.DailyLimit,
		s.MonthlyUsed, s.MonthlyLimit,
		s.GroupsUsed, s.GroupsLimit,
	)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.tg.SendMessage(ctx, chatID, text); err != nil {
		b.logger.Warn("reply failed", map[string]interface{}{
			"chatId": chatID,
			"error":  err.Error(),
		})
	}
}

func (b *Bot) remember(chatID int64, msg *telegram.Message) {
	line := msg.Text
	if msg.From != nil {
		line = msg.From.FirstName + ": " + msg.Text
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	buf := append(b.history[chatID], line)
	if len(buf) > historySize {
		buf = buf[len(buf)-historySize:]
	}
	b.history[chatID] = buf
}

func (b *Bot) recall(chatID int64) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.history[chatID]...)
}

// command extracts the leading bot command, stripping any @botname suffix.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd
}
