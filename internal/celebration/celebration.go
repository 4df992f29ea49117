// Package celebration sends a random piece of media from a category to a
// chat when something worth celebrating happens.
package celebration

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"mintwatch/internal/notify"
	"mintwatch/internal/solana"
	"mintwatch/internal/storage"
)

// Options configure a Celebrator.
type Options struct {
	// FallbackMessage is sent as text when a category has no media. Empty
	// means nothing is sent.
	FallbackMessage string
	// BuyCategory is celebrated for every transfer seen on chain.
	BuyCategory string
}

// Celebrator picks media from the store and delivers it.
type Celebrator struct {
	media      storage.CelebrationStore
	dispatcher notify.Dispatcher
	opts       Options
	logger     zerolog.Logger
}

// New constructs a Celebrator.
func New(media storage.CelebrationStore, dispatcher notify.Dispatcher, opts Options, logger zerolog.Logger) *Celebrator {
	if opts.BuyCategory == "" {
		opts.BuyCategory = "buy"
	}
	return &Celebrator{
		media:      media,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With().Str("component", "celebration").Logger(),
	}
}

// Celebrate sends one random media item of category to chatID.
func (c *Celebrator) Celebrate(ctx context.Context, category string, chatID int64) error {
	item, err := c.media.RandomMedia(ctx, category)
	if errors.Is(err, storage.ErrNotFound) {
		if c.opts.FallbackMessage == "" {
			c.logger.Debug().Str("category", category).Msg("no media stored, skipping")
			return nil
		}
		return c.dispatcher.Notify(ctx, chatID, notify.Message{Text: c.opts.FallbackMessage})
	}
	if err != nil {
		return fmt.Errorf("pick %s media: %w", category, err)
	}

	c.logger.Debug().Str("category", category).Int64("media_id", item.ID).Int64("chat_id", chatID).Msg("celebrating")
	return c.dispatcher.NotifyMedia(ctx, chatID, notify.Media{
		Kind:    item.Kind,
		FileID:  item.FileID,
		Caption: item.Caption,
	})
}

// HandleLogEvent returns a monitor handler that celebrates every transfer in
// chatID.
func (c *Celebrator) HandleLogEvent(chatID int64) solana.Handler {
	return func(ctx context.Context, ev solana.LogEvent) error {
		c.logger.Info().Str("signature", ev.Signature).Int64("slot", ev.Slot).Msg("transfer detected")
		if err := c.Celebrate(ctx, c.opts.BuyCategory, chatID); err != nil {
			return fmt.Errorf("celebrate %s: %w", ev.Signature, err)
		}
		return nil
	}
}
