package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"mintwatch/internal/notify"
	"mintwatch/internal/oracle"
	"mintwatch/internal/scheduler"
	"mintwatch/internal/storage"
)

// Celebrator sends celebration media to a chat.
type Celebrator interface {
	Celebrate(ctx context.Context, category string, chatID int64) error
}

// Metrics receives per-tick measurements.
type Metrics interface {
	ObserveTick(d time.Duration, err error)
	AlertsTriggered(n int)
	NotifyFailed()
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(time.Duration, error) {}
func (nopMetrics) AlertsTriggered(int)              {}
func (nopMetrics) NotifyFailed()                    {}

// Deps are the collaborators of the evaluation loop. Samples, Celebrator and
// Metrics are optional.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Alerts     storage.AlertStore
	Samples    storage.QuoteSampleStore
	Oracle     oracle.PriceOracle
	Dispatcher notify.Dispatcher
	Celebrator Celebrator
	Metrics    Metrics
}

// Options tune alert evaluation.
type Options struct {
	// Concurrency caps simultaneous notify/delete sequences within a tick.
	Concurrency     int
	RecordQuotes    bool
	PriceUpCategory string
	// Currency labels prices in notifications.
	Currency string
}

// TickSummary reports what a single tick did.
type TickSummary struct {
	TickID       string
	At           time.Time
	Alerts       int
	Quoted       int
	Triggered    int
	Notified     int
	NotifyFailed int
	Deleted      int
	// PendingDeletes counts triggered alerts whose removal still has to be
	// retried.
	PendingDeletes int
}

// Service evaluates stored price alerts against oracle quotes and notifies
// each owner once before deleting the alert.
type Service struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	// pending holds ids of alerts that were already processed but could not
	// be deleted. They are never notified again.
	pendingMu sync.Mutex
	pending   map[int64]struct{}
}

// New constructs the alert evaluation service.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PriceUpCategory == "" {
		opts.PriceUpCategory = "price_up"
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}

	return &Service{
		deps:    deps,
		opts:    opts,
		logger:  logger.With().Str("component", "alert_service").Logger(),
		pending: make(map[int64]struct{}),
	}
}

// Run begins the evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.tick)
}

// Stop prevents further ticks; an in-flight tick completes.
func (s *Service) Stop() {
	if s.deps.Scheduler != nil {
		s.deps.Scheduler.Stop()
	}
}

func (s *Service) tick(ctx context.Context, at time.Time) error {
	_, err := s.RunTick(ctx, at)
	return err
}

// RunTick performs one evaluation pass.
func (s *Service) RunTick(ctx context.Context, at time.Time) (summary TickSummary, err error) {
	start := time.Now()
	summary = TickSummary{TickID: uuid.NewString(), At: at}
	log := s.logger.With().Str("tick_id", summary.TickID).Logger()
	defer func() {
		s.deps.Metrics.ObserveTick(time.Since(start), err)
	}()

	summary.Deleted += s.retryPendingDeletes(ctx, log)

	alerts, err := s.deps.Alerts.ListAllAlerts(ctx)
	if err != nil {
		return summary, fmt.Errorf("list alerts: %w", err)
	}
	alerts = s.withoutPending(alerts)
	summary.Alerts = len(alerts)

	quotes := s.fetchQuotes(ctx, log, alerts)
	summary.Quoted = len(quotes)
	s.recordQuotes(ctx, log, quotes, at)

	var triggered []storage.PriceAlert
	for _, alert := range alerts {
		quote, ok := quotes[alert.Symbol]
		if ok && alert.Triggered(quote.Price) {
			triggered = append(triggered, alert)
		}
	}
	summary.Triggered = len(triggered)
	s.deps.Metrics.AlertsTriggered(len(triggered))

	var notified, failed, deleted atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, alert := range triggered {
		g.Go(func() error {
			n, d := s.fire(ctx, log, alert, quotes[alert.Symbol].Price)
			if n {
				notified.Add(1)
			} else {
				failed.Add(1)
			}
			if d {
				deleted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Notified = int(notified.Load())
	summary.NotifyFailed = int(failed.Load())
	summary.Deleted += int(deleted.Load())
	summary.PendingDeletes = s.pendingCount()

	log.Info().
		Time("at", at).
		Int("alerts", summary.Alerts).
		Int("quoted", summary.Quoted).
		Int("triggered", summary.Triggered).
		Int("notified", summary.Notified).
		Int("notify_failed", summary.NotifyFailed).
		Int("deleted", summary.Deleted).
		Int("pending_deletes", summary.PendingDeletes).
		Dur("took", time.Since(start)).
		Msg("alert tick complete")
	return summary, nil
}

// fire notifies the owner, celebrates upward crossings and then deletes the
// alert regardless of delivery outcome.
func (s *Service) fire(ctx context.Context, log zerolog.Logger, alert storage.PriceAlert, price decimal.Decimal) (notified, deleted bool) {
	alog := log.With().Int64("alert_id", alert.ID).Int64("user_id", alert.UserID).Str("symbol", alert.Symbol).Logger()

	if err := s.deps.Dispatcher.Notify(ctx, alert.UserID, s.alertMessage(alert, price)); err != nil {
		s.deps.Metrics.NotifyFailed()
		alog.Error().Err(err).Msg("failed to notify alert owner")
	} else {
		notified = true
		alog.Info().Str("price", price.String()).Str("target", alert.TargetPrice.String()).Msg("alert delivered")
		if alert.Direction == storage.DirectionAbove && s.deps.Celebrator != nil {
			if err := s.deps.Celebrator.Celebrate(ctx, s.opts.PriceUpCategory, alert.UserID); err != nil {
				alog.Warn().Err(err).Msg("price_up celebration failed")
			}
		}
	}

	if _, err := s.deps.Alerts.DeleteAlert(ctx, alert.ID); err != nil {
		alog.Error().Err(err).Msg("failed to delete triggered alert, will retry")
		s.markPending(alert.ID)
		return notified, false
	}
	return notified, true
}

func (s *Service) fetchQuotes(ctx context.Context, log zerolog.Logger, alerts []storage.PriceAlert) map[string]oracle.Quote {
	quotes := make(map[string]oracle.Quote)
	seen := make(map[string]struct{})
	for _, alert := range alerts {
		if _, ok := seen[alert.Symbol]; ok {
			continue
		}
		seen[alert.Symbol] = struct{}{}

		quote, err := s.deps.Oracle.FetchQuote(ctx, alert.Symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", alert.Symbol).Msg("quote unavailable, skipping symbol")
			continue
		}
		if !quote.Available {
			log.Warn().Str("symbol", alert.Symbol).Msg("no price for symbol, skipping")
			continue
		}
		quotes[alert.Symbol] = quote
	}
	return quotes
}

func (s *Service) recordQuotes(ctx context.Context, log zerolog.Logger, quotes map[string]oracle.Quote, at time.Time) {
	if !s.opts.RecordQuotes || s.deps.Samples == nil || len(quotes) == 0 {
		return
	}
	samples := make([]storage.QuoteSample, 0, len(quotes))
	for symbol, quote := range quotes {
		samples = append(samples, storage.QuoteSample{Symbol: symbol, Price: quote.Price, ObservedAt: at.UTC()})
	}
	if err := s.deps.Samples.InsertQuoteSamples(ctx, samples); err != nil {
		log.Warn().Err(err).Msg("failed to record quote samples")
	}
}

func (s *Service) alertMessage(alert storage.PriceAlert, price decimal.Decimal) notify.Message {
	cur := strings.ToUpper(s.opts.Currency)
	var icon, body string
	switch alert.Direction {
	case storage.DirectionBelow:
		icon = "📉"
		body = fmt.Sprintf("%s fell to %s %s, at or below your target of %s %s.",
			alert.Symbol, price.String(), cur, alert.TargetPrice.String(), cur)
	default:
		icon = "🚀"
		body = fmt.Sprintf("%s reached %s %s, at or above your target of %s %s.",
			alert.Symbol, price.String(), cur, alert.TargetPrice.String(), cur)
	}
	return notify.Message{
		Text:      fmt.Sprintf("%s *%s*\n\n%s", icon, notify.Escape("Price alert!"), notify.Escape(body)),
		ParseMode: notify.ModeMarkdownV2,
	}
}

func (s *Service) retryPendingDeletes(ctx context.Context, log zerolog.Logger) int {
	s.pendingMu.Lock()
	ids := make([]int64, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.pendingMu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, err := s.deps.Alerts.DeleteAlert(ctx, id); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Int64("alert_id", id).Msg("pending delete failed again")
			}
			continue
		}
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
		deleted++
	}
	return deleted
}

func (s *Service) markPending(id int64) {
	s.pendingMu.Lock()
	s.pending[id] = struct{}{}
	s.pendingMu.Unlock()
}

func (s *Service) pendingCount() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

func (s *Service) withoutPending(alerts []storage.PriceAlert) []storage.PriceAlert {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.pending) == 0 {
		return alerts
	}
	out := alerts[:0:0]
	for _, a := range alerts {
		if _, ok := s.pending[a.ID]; !ok {
			out = append(out, a)
		}
	}
	return out
}
