// Package notify delivers messages to chat destinations.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"mintwatch/internal/storage"
)

// Message is a text payload. ParseMode is passed through to the transport
// when set; callers are responsible for escaping.
type Message struct {
	Text      string
	ParseMode string
}

// Media is a sticker or animation payload referenced by a transport file id.
type Media struct {
	Kind    storage.MediaKind
	FileID  string
	Caption string
}

// Dispatcher sends payloads to a destination chat. Implementations are safe
// for concurrent use and report delivery failures as errors.
type Dispatcher interface {
	Notify(ctx context.Context, chatID int64, msg Message) error
	NotifyMedia(ctx context.Context, chatID int64, media Media) error
}

// TelegramOptions configure the Telegram dispatcher.
type TelegramOptions struct {
	BotToken string
	// APIEndpoint is a format string taking the token and method.
	APIEndpoint string
	Timeout     time.Duration
}

// Telegram delivers through the Bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	logger zerolog.Logger
}

// NewTelegram authenticates the bot (getMe) and returns a dispatcher.
func NewTelegram(opts TelegramOptions, logger zerolog.Logger) (*Telegram, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	log := logger.With().Str("component", "notify_telegram").Logger()
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram bot authorised")
	return &Telegram{bot: bot, logger: log}, nil
}

// Notify sends a text message. ctx is only checked before the request goes
// out; once sent, the call is bounded by the HTTP client timeout and not by
// ctx, because the Bot API client takes no context.
func (t *Telegram) Notify(ctx context.Context, chatID int64, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := tgbotapi.NewMessage(chatID, msg.Text)
	cfg.ParseMode = msg.ParseMode
	cfg.DisableWebPagePreview = true
	if _, err := t.bot.Send(cfg); err != nil {
		return fmt.Errorf("telegram sendMessage to %d: %w", chatID, err)
	}

	t.logger.Debug().Int64("chat_id", chatID).Msg("message delivered")
	return nil
}

// NotifyMedia sends a sticker or an animation. Captions are sent as
// MarkdownV2 after escaping; stickers cannot carry one so it follows as text.
// Cancellation behaves as in Notify.
func (t *Telegram) NotifyMedia(ctx context.Context, chatID int64, media Media) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch media.Kind {
	case storage.MediaSticker:
		if _, err := t.bot.Send(tgbotapi.NewSticker(chatID, tgbotapi.FileID(media.FileID))); err != nil {
			return fmt.Errorf("telegram sendSticker to %d: %w", chatID, err)
		}
		if media.Caption != "" {
			return t.Notify(ctx, chatID, Message{
				Text:      tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, media.Caption),
				ParseMode: tgbotapi.ModeMarkdownV2,
			})
		}
	case storage.MediaAnimation:
		cfg := tgbotapi.NewAnimation(chatID, tgbotapi.FileID(media.FileID))
		if media.Caption != "" {
			cfg.Caption = tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, media.Caption)
			cfg.ParseMode = tgbotapi.ModeMarkdownV2
		}
		if _, err := t.bot.Send(cfg); err != nil {
			return fmt.Errorf("telegram sendAnimation to %d: %w", chatID, err)
		}
	default:
		return fmt.Errorf("unsupported media kind %q", media.Kind)
	}

	t.logger.Debug().Int64("chat_id", chatID).Str("kind", string(media.Kind)).Msg("media delivered")
	return nil
}

// LogDispatcher writes payloads to the log instead of a chat.
type LogDispatcher struct {
	logger zerolog.Logger
}

// NewLogDispatcher constructs a LogDispatcher.
func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With().Str("component", "notify_log").Logger()}
}

func (d *LogDispatcher) Notify(_ context.Context, chatID int64, msg Message) error {
	d.logger.Info().Int64("chat_id", chatID).Str("text", msg.Text).Msg("notification")
	return nil
}

func (d *LogDispatcher) NotifyMedia(_ context.Context, chatID int64, media Media) error {
	d.logger.Info().Int64("chat_id", chatID).
		Str("kind", string(media.Kind)).
		Str("file_id", media.FileID).
		Str("caption", media.Caption).
		Msg("media notification")
	return nil
}

// Escape prepares free text for a MarkdownV2 message.
func Escape(text string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, text)
}

// ModeMarkdownV2 is the parse mode used for formatted messages.
const ModeMarkdownV2 = tgbotapi.ModeMarkdownV2

var (
	_ Dispatcher = (*Telegram)(nil)
	_ Dispatcher = (*LogDispatcher)(nil)
)
