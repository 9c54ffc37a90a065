// Package telegram delivers alerts through the Telegram Bot API and answers
// operator commands.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/models"
)

// Controller is the part of the scheduler the bot commands drive.
type Controller interface {
	TriggerAsync(ctx context.Context) bool
	State() *models.ScanState
	Scanning() bool
}

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            botSender
	api            *tgbotapi.BotAPI
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
	c.api = bot
	return c, nil
}

func newClient(bot botSender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, ctrl Controller) {
	if c.api == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, ctrl, update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, ctrl Controller, msg *tgbotapi.Message) {
	// only the configured chat may drive the scanner
	if msg.Chat == nil || msg.Chat.ID != c.chatID {
		logger.Debug("Ignoring /%s from chat %v", msg.Command(), msg.Chat)
		return
	}
	reply := commandReply(ctx, ctrl, msg.Command())
	if reply == "" {
		return
	}
	if _, err := c.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, reply)); err != nil {
		logger.Warn("Failed to reply to /%s: %v", msg.Command(), err)
	}
}

// commandReply returns the plain-text answer to a command, or "" for unknown ones.
func commandReply(ctx context.Context, ctrl Controller, command string) string {
	switch command {
	case "ping":
		return "Pong"
	case "scan":
		if ctrl.TriggerAsync(ctx) {
			return "Scan started"
		}
		return "A scan is already running"
	case "status":
		st := ctrl.State()
		last := "never"
		if !st.LastScan.IsZero() {
			last = st.LastScan.UTC().Format("2006-01-02 15:04:05 UTC")
		}
		return fmt.Sprintf("Scanning: %t\nLast scan: %s (%v)\nScans: %d\nAlerts generated: %d\nPending alerts: %d\nTrades executed: %d",
			ctrl.Scanning(), last, st.LastScanDuration.Round(time.Millisecond), st.ScansCompleted,
			st.AlertsGenerated, len(st.PendingAlerts), st.TradesExecuted)
	default:
		return ""
	}
}

// Send delivers a MarkdownV2 message with linear-backoff retry.
func (c *Client) Send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// Formatter renders alerts and notices as Telegram MarkdownV2.
type Formatter struct{}

func (Formatter) Alert(a models.AlertSummary) string {
	var b strings.Builder

	emoji := "🟢"
	switch a.Action {
	case models.ActionBuyNo:
		emoji = "🔴"
	case models.ActionPass:
		emoji = "⚪"
	}
	fmt.Fprintf(&b, "%s *%s* score %d\n", emoji, escapeMarkdownV2(strings.ToUpper(string(a.Action))), a.OverallScore)

	if a.URL != "" {
		fmt.Fprintf(&b, "[%s](%s)\n", escapeMarkdownV2(a.Question), escapeLinkURL(a.URL))
	} else {
		fmt.Fprintf(&b, "%s\n", escapeMarkdownV2(a.Question))
	}

	fmt.Fprintf(&b, "YES %s / NO %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.1f%%", a.YesProbability)),
		escapeMarkdownV2(fmt.Sprintf("%.1f%%", a.NoProbability)))
	fmt.Fprintf(&b, "💵 Size: %s", escapeMarkdownV2(a.RecommendedSize.StringFixed(2)))
	if a.RiskScore > 0 {
		fmt.Fprintf(&b, "  ⚖️ Risk: %d/10", a.RiskScore)
	}
	b.WriteString("\n\n")

	for _, line := range strings.Split(a.AnalysisText, "\n") {
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, "• %s\n", escapeMarkdownV2(line))
	}
	if a.ExitStrategy != "" {
		fmt.Fprintf(&b, "\n🚪 %s\n", escapeMarkdownV2(a.ExitStrategy))
	}
	if !a.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "\n📅 %s", escapeMarkdownV2(a.CreatedAt.UTC().Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

// ScanError is sent only on the first failure of a streak.
func (Formatter) ScanError(err error) string {
	return fmt.Sprintf("⚠️ *Scan error*\n`%s`", escapeMarkdownV2(err.Error()))
}

func (Formatter) Recovery(failures int) string {
	return fmt.Sprintf("✅ *Scanning recovered* after %d consecutive failure\\(s\\)", failures)
}

var linkURLEscaper = strings.NewReplacer(`\`, `\\`, ")", `\)`)

// escapeLinkURL escapes the characters MarkdownV2 reserves inside (...) of an inline link.
func escapeLinkURL(url string) string {
	return linkURLEscaper.Replace(url)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
