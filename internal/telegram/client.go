// Package telegram answers box calculation requests through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/boxoracle/internal/engine"
	"github.com/rewired-gh/boxoracle/internal/logger"
	"github.com/rewired-gh/boxoracle/internal/models"
	"github.com/rewired-gh/boxoracle/internal/storage"
)

// Calculator runs a calculation for a stored pack.
type Calculator interface {
	Calculate(ctx context.Context, packID, userID string) (*models.Calculation, error)
}

// Client handles Telegram commands and notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	calc           Calculator
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, calc Calculator, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		calc:           calc,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
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
					c.handleCommand(ctx, update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	text := replyFor(ctx, c.calc, msg.Command(), msg.CommandArguments())
	if text == "" {
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "MarkdownV2"
	if _, err := c.bot.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

// replyFor builds the MarkdownV2 answer to a bot command, or "" for commands the bot ignores.
func replyFor(ctx context.Context, calc Calculator, command, args string) string {
	switch command {
	case "ping":
		return "Pong"
	case "ev":
		packID := strings.TrimSpace(args)
		if packID == "" {
			return escapeMarkdownV2("Usage: /ev <pack_id>")
		}
		result, err := calc.Calculate(ctx, packID, "")
		if err != nil {
			return formatError(packID, err)
		}
		return formatCalculation(result)
	default:
		return ""
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// Send posts a calculation summary to the configured chat.
func (c *Client) Send(calc *models.Calculation) error {
	return c.sendMarkdownV2(formatCalculation(calc))
}

// formatCalculation formats a calculation into a Telegram MarkdownV2 message.
func formatCalculation(calc *models.Calculation) string {
	r := calc.Result
	verdict := "📉"
	if r.Profit() > 0 {
		verdict = "📈"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📦 *%s*\n\n", escapeMarkdownV2(calc.PackID))
	fmt.Fprintf(&b, "%s Expected value: *%s* \\(box %s\\)\n", verdict,
		escapeMarkdownV2(models.FormatCurrency(r.ExpectedValue, 0)),
		escapeMarkdownV2(models.FormatCurrency(r.BoxPrice, 0)))
	fmt.Fprintf(&b, "🎲 Profit probability: *%s*\n",
		escapeMarkdownV2(fmt.Sprintf("%.2f%%", r.ProfitProbability*100)))
	fmt.Fprintf(&b, "🏷 Prices entered: %d/%d\n", r.PricesEntered, r.TotalCards)
	if missing := r.MissingPrices(); missing > 0 {
		fmt.Fprintf(&b, "⚠️ %d cards have no price and count as zero\n", missing)
	}
	return b.String()
}

func formatError(packID string, err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return escapeMarkdownV2(fmt.Sprintf("Unknown pack: %s", packID))
	case engine.KindName(err) != "":
		return fmt.Sprintf("⚠️ *Cannot calculate %s*\n`%s`", escapeMarkdownV2(packID), escapeMarkdownV2(err.Error()))
	default:
		logger.Error("Telegram calculation for %s failed: %v", packID, err)
		return escapeMarkdownV2("Calculation failed, try again later.")
	}
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
