// Package broadcast delivers one message to every registered user.
package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mintwatch/internal/notify"
	"mintwatch/internal/scheduler"
	"mintwatch/internal/storage"
)

// Options tune delivery.
type Options struct {
	// Concurrency caps simultaneous sends.
	Concurrency int
}

// Failure is one recipient that could not be reached.
type Failure struct {
	ChatID int64
	Err    error
}

// Result collects the outcome of every send.
type Result struct {
	Recipients int
	Sent       int
	Failed     []Failure
}

// Broadcaster fans a message out to the user registry.
type Broadcaster struct {
	users      storage.UserStore
	dispatcher notify.Dispatcher
	opts       Options
	logger     zerolog.Logger
}

// New constructs a Broadcaster.
func New(users storage.UserStore, dispatcher notify.Dispatcher, opts Options, logger zerolog.Logger) *Broadcaster {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Broadcaster{
		users:      users,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With().Str("component", "broadcast").Logger(),
	}
}

// Send delivers msg to every registered user. Each send runs to completion
// on its own; a failure is recorded in the Result and never cancels the
// others. The error is non-nil only when the registry cannot be read.
func (b *Broadcaster) Send(ctx context.Context, msg notify.Message) (Result, error) {
	ids, err := b.users.ListUserIDs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list users: %w", err)
	}

	start := time.Now()
	outcomes := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(b.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = b.dispatcher.Notify(ctx, id, msg)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Recipients: len(ids)}
	for i, err := range outcomes {
		if err != nil {
			b.logger.Warn().Err(err).Int64("chat_id", ids[i]).Msg("broadcast delivery failed")
			res.Failed = append(res.Failed, Failure{ChatID: ids[i], Err: err})
			continue
		}
		res.Sent++
	}

	b.logger.Info().
		Int("recipients", res.Recipients).
		Int("sent", res.Sent).
		Int("failed", len(res.Failed)).
		Dur("took", time.Since(start)).
		Msg("broadcast complete")
	return res, nil
}

// Tip returns a scheduler tick that broadcasts text as MarkdownV2.
func (b *Broadcaster) Tip(text string) scheduler.TickFunc {
	msg := notify.Message{Text: notify.Escape(text), ParseMode: notify.ModeMarkdownV2}
	return func(ctx context.Context, at time.Time) error {
		b.logger.Info().Time("at", at).Msg("sending recurring tip")
		_, err := b.Send(ctx, msg)
		return err
	}
}
