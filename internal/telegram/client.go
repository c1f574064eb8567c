// Package telegram sends operator notifications via the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/hdbinsight/internal/logger"
)

// Stats is the service summary reported at startup and by /stats.
type Stats struct {
	Records   int
	Towns     int
	FirstYear int
	LastYear  int
	Users     int
}

// StatsFunc produces a fresh summary on demand.
type StatsFunc func(ctx context.Context) (Stats, error)

// sender is the subset of *tgbotapi.BotAPI used for outgoing messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	out            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(out sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		out:            out,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, stats StatsFunc) {
	if c.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message, stats)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message, stats StatsFunc) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "stats":
		// service numbers are for the operator chat only
		if msg.Chat == nil || msg.Chat.ID != c.chatID || stats == nil {
			return
		}
		s, err := stats(ctx)
		if err != nil {
			logger.Warn("Failed to collect stats for /stats: %v", err)
			text = "Stats unavailable"
			break
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, formatStats("📊 *Service stats*", s))
		reply.ParseMode = "MarkdownV2"
		c.out.Send(reply) //nolint:errcheck
		return
	default:
		return
	}
	c.out.Send(tgbotapi.NewMessage(msg.Chat.ID, text)) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.out.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// NotifyStartup reports that the API is serving and what it loaded.
func (c *Client) NotifyStartup(s Stats) error {
	return c.sendMarkdownV2(formatStats("🚀 *HDB Insight started*", s))
}

// NotifySignup reports a newly registered account.
func (c *Client) NotifySignup(username string) error {
	text := fmt.Sprintf("👤 New signup: *%s*", escapeMarkdownV2(username))
	return c.sendMarkdownV2(text)
}

func formatStats(title string, s Stats) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Records: %d\n", s.Records)
	fmt.Fprintf(&b, "Towns: %d\n", s.Towns)
	if s.FirstYear != 0 {
		fmt.Fprintf(&b, "Years: %s\n", escapeMarkdownV2(fmt.Sprintf("%d-%d", s.FirstYear, s.LastYear)))
	}
	fmt.Fprintf(&b, "Users: %d\n", s.Users)
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
