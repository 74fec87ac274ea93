// Package alert provides operator notifications via the Telegram Bot API.
package alert

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/scraplab/autopricer/internal/logger"
)

// Telegram sends operator alerts to a single chat.
type Telegram struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewTelegram creates a Telegram alerter.
func NewTelegram(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Telegram{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Notify sends a general warning message. Delivery failures are logged,
// never propagated, so alerting cannot stall the pricing loop.
func (t *Telegram) Notify(message string) {
	text := fmt.Sprintf("⚠️ *Autopricer alert*\n%s", escapeMarkdownV2(message))
	if err := t.sendMarkdownV2(text); err != nil {
		logger.Error("Telegram alert delivery: %v", err)
	}
}

// NotifyError reports a component error.
// Call this only on the first occurrence of a consecutive error sequence.
func (t *Telegram) NotifyError(component string, cause error) {
	text := fmt.Sprintf("🛑 *%s error*\n`%s`",
		escapeMarkdownV2(component), escapeMarkdownV2(cause.Error()))
	if err := t.sendMarkdownV2(text); err != nil {
		logger.Error("Telegram alert delivery: %v", err)
	}
}

// NotifyRecovery reports that a component recovered after consecutive failures.
func (t *Telegram) NotifyRecovery(component string, failureCount int) {
	text := fmt.Sprintf("✅ *%s recovered* after %d consecutive failure\\(s\\)",
		escapeMarkdownV2(component), failureCount)
	if err := t.sendMarkdownV2(text); err != nil {
		logger.Error("Telegram alert delivery: %v", err)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (t *Telegram) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if _, err := t.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(t.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", t.maxRetries, lastErr)
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
