package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mintwatch/internal/broadcast"
	"mintwatch/internal/celebration"
	"mintwatch/internal/config"
	"mintwatch/internal/metrics"
	"mintwatch/internal/notify"
	"mintwatch/internal/oracle"
	"mintwatch/internal/scheduler"
	"mintwatch/internal/service"
	"mintwatch/internal/solana"
	"mintwatch/internal/storage"
	"mintwatch/internal/storage/memory"
	"mintwatch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	// openStores is swapped in tests.
	openStores func(ctx context.Context, persistent bool) (*stores, error)
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	a := &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
	a.openStores = a.defaultStores
	return a
}

type stores struct {
	alerts  storage.AlertStore
	media   storage.CelebrationStore
	samples storage.QuoteSampleStore
	users   storage.UserStore
	close   func()
}

// defaultStores opens PostgreSQL when a DSN is configured. Without one, the
// in-memory store is used unless the caller needs data to outlive the process.
func (a *App) defaultStores(ctx context.Context, persistent bool) (*stores, error) {
	if a.Config.Database.DSN == "" {
		if persistent {
			return nil, errors.New("database.dsn is required for this command")
		}
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store, alerts will not survive a restart")
		mem := memory.NewStore()
		return &stores{alerts: mem, media: mem, samples: mem, users: mem, close: func() {}}, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	if a.Config.Database.AutoMigrate {
		if err := storage.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	store := storage.NewStore(pool)
	return &stores{alerts: store, media: store, samples: store, users: store, close: store.Close}, nil
}

func (a *App) newOracle() *oracle.CoinGecko {
	cfg := a.Config.Oracle
	return oracle.NewCoinGecko(oracle.CoinGeckoOptions{
		BaseURL:    cfg.BaseURL,
		VsCurrency: cfg.VsCurrency,
		Timeout:    cfg.RequestTimeout,
		UserAgent:  cfg.UserAgent,
		Symbols:    cfg.Symbols,
	}, a.Logger)
}

func (a *App) newDispatcher() (notify.Dispatcher, error) {
	cfg := a.Config.Telegram
	if !cfg.Enabled {
		a.Logger.Warn().Msg("telegram disabled; notifications are written to the log")
		return notify.NewLogDispatcher(a.Logger), nil
	}
	return notify.NewTelegram(notify.TelegramOptions{
		BotToken:    cfg.BotToken,
		APIEndpoint: cfg.APIEndpoint,
		Timeout:     cfg.RequestTimeout,
	}, a.Logger)
}

func (a *App) newService(st *stores, quotes oracle.PriceOracle, dispatcher notify.Dispatcher, celebrator service.Celebrator, sched *scheduler.Scheduler, m service.Metrics) *service.Service {
	return service.New(service.Deps{
		Scheduler:  sched,
		Alerts:     st.alerts,
		Samples:    st.samples,
		Oracle:     quotes,
		Dispatcher: dispatcher,
		Celebrator: celebrator,
		Metrics:    m,
	}, service.Options{
		Concurrency:     a.Config.Alerting.Concurrency,
		RecordQuotes:    a.Config.Alerting.RecordQuotes,
		PriceUpCategory: a.Config.Celebration.PriceUpCategory,
		Currency:        strings.ToUpper(a.Config.Oracle.VsCurrency),
	}, a.Logger)
}

func (a *App) newCelebrator(st *stores, dispatcher notify.Dispatcher) *celebration.Celebrator {
	return celebration.New(st.media, dispatcher, celebration.Options{
		FallbackMessage: a.Config.Celebration.FallbackMessage,
		BuyCategory:     a.Config.Celebration.BuyCategory,
	}, a.Logger)
}

func (a *App) newBroadcaster(st *stores, dispatcher notify.Dispatcher) *broadcast.Broadcaster {
	return broadcast.New(st.users, dispatcher, broadcast.Options{
		Concurrency: a.Config.Broadcast.Concurrency,
	}, a.Logger)
}

// Run executes the chain monitor, the alert loop and the recurring tip until
// SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := a.openStores(ctx, false)
	if err != nil {
		return err
	}
	defer st.close()

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return err
	}
	celebrator := a.newCelebrator(st, dispatcher)

	var (
		observer   solana.Observer
		svcMetrics service.Metrics
		collectors *metrics.Metrics
	)
	if a.Config.Metrics.Enabled {
		collectors = metrics.New(a.Config.Metrics.Namespace)
		observer, svcMetrics = collectors, collectors
	}

	g, gctx := errgroup.WithContext(ctx)

	if collectors != nil {
		g.Go(func() error {
			return collectors.Serve(gctx, a.Config.Metrics.ListenAddr, a.Logger)
		})
	}

	if a.Config.Solana.Enabled {
		if a.Config.Telegram.ChatID == 0 {
			a.Logger.Warn().Msg("telegram.chat_id not set; transfer celebrations go to chat 0")
		}
		sol := a.Config.Solana
		monitor := solana.NewMonitor(solana.MonitorOptions{
			URL:              sol.WSURL,
			MintAddress:      sol.MintAddress,
			Commitment:       sol.Commitment,
			ReconnectDelay:   sol.ReconnectDelay,
			SubscribeTimeout: sol.SubscribeTimeout,
			HandshakeTimeout: sol.HandshakeTimeout,
			WriteTimeout:     sol.WriteTimeout,
			PingInterval:     sol.PingInterval,
			Observer:         observer,
		}, celebrator.HandleLogEvent(a.Config.Telegram.ChatID), a.Logger)

		g.Go(func() error {
			return monitor.Run(gctx)
		})
	}

	if a.Config.Alerting.Enabled {
		sched := scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
			TickTimeout:  a.Config.Scheduler.TickTimeout,
		}, a.Logger)
		svc := a.newService(st, a.newOracle(), dispatcher, celebrator, sched, svcMetrics)

		g.Go(func() error {
			if err := svc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("alert service: %w", err)
			}
			return nil
		})
	}

	if a.Config.Broadcast.TipEnabled {
		tips := scheduler.New(scheduler.Options{
			Interval:     a.Config.Broadcast.TipInterval,
			StartupDelay: a.Config.Broadcast.TipStartupDelay,
			TickTimeout:  a.Config.Broadcast.TipInterval,
		}, a.Logger.With().Str("job", "tip").Logger())
		tip := a.newBroadcaster(st, dispatcher).Tip(a.Config.Broadcast.TipMessage)

		g.Go(func() error {
			if err := tips.Run(gctx, tip); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("tip job: %w", err)
			}
			return nil
		})
	}

	a.Logger.Info().
		Str("version", version.Version).
		Bool("solana", a.Config.Solana.Enabled).
		Bool("alerting", a.Config.Alerting.Enabled).
		Bool("metrics", a.Config.Metrics.Enabled).
		Bool("tips", a.Config.Broadcast.TipEnabled).
		Msg("starting mintwatch")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("mintwatch terminated with error")
		return err
	}

	a.Logger.Info().Msg("mintwatch stopped")
	return nil
}

// ExportOptions hold parameters for exporting recorded quotes.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// AddAlertOptions describe a new price alert.
type AddAlertOptions struct {
	UserID    int64
	Symbol    string
	Price     string
	Direction string
}

// AddUserOptions describe a user registration.
type AddUserOptions struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

// BroadcastOptions describe a one-off broadcast.
type BroadcastOptions struct {
	Text string
	// Markdown sends Text as MarkdownV2 verbatim instead of escaping it.
	Markdown bool
}
