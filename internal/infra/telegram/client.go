package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Client sends operator alerts. Outgoing messages are rate limited to stay
// under the Bot API's 30 messages per second.
type Client struct {
	api     *tgbotapi.BotAPI
	logger  *slog.Logger
	limiter *rate.Limiter
}

func NewClient(token string, logger *slog.Logger) (*Client, error) {
	return newClient(token, tgbotapi.APIEndpoint, http.DefaultClient, logger)
}

func newClient(token, endpoint string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Client{
		api:     bot,
		logger:  logger,
		limiter: rate.NewLimiter(30, 1),
	}, nil
}

// SendMessage sends a Markdown message to chatID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiting: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := c.api.Send(msg); err != nil {
		c.logger.Error("Failed to send telegram message",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Username is the bot account the token belongs to.
func (c *Client) Username() string {
	return c.api.Self.UserName
}
