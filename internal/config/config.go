package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"
	"github.com/spf13/viper"

	"mintwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Oracle      OracleConfig      `mapstructure:"oracle"`
	Solana      SolanaConfig      `mapstructure:"solana"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Celebration CelebrationConfig `mapstructure:"celebration"`
	Broadcast   BroadcastConfig   `mapstructure:"broadcast"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the alert evaluation cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	TickTimeout   time.Duration `mapstructure:"tick_timeout"`
}

// OracleConfig points at the CoinGecko compatible price service.
type OracleConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	VsCurrency     string            `mapstructure:"vs_currency"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
	Symbols        map[string]string `mapstructure:"symbols"`
}

// SolanaConfig drives the log subscription.
type SolanaConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	WSURL            string        `mapstructure:"ws_url"`
	MintAddress      string        `mapstructure:"mint_address"`
	Commitment       string        `mapstructure:"commitment"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	SubscribeTimeout time.Duration `mapstructure:"subscribe_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
}

// TelegramConfig describes the bot used for notifications. ChatID is the
// group that receives transfer celebrations.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	APIEndpoint    string        `mapstructure:"api_endpoint"`
	ChatID         int64         `mapstructure:"chat_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig tunes the evaluation loop.
type AlertingConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	Concurrency  int  `mapstructure:"concurrency"`
	RecordQuotes bool `mapstructure:"record_quotes"`
}

// CelebrationConfig names media categories and the text fallback.
type CelebrationConfig struct {
	BuyCategory     string `mapstructure:"buy_category"`
	PriceUpCategory string `mapstructure:"price_up_category"`
	FallbackMessage string `mapstructure:"fallback_message"`
}

// BroadcastConfig covers messages sent to every registered user, including
// the recurring tip.
type BroadcastConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	TipEnabled      bool          `mapstructure:"tip_enabled"`
	TipInterval     time.Duration `mapstructure:"tip_interval"`
	TipStartupDelay time.Duration `mapstructure:"tip_startup_delay"`
	TipMessage      string        `mapstructure:"tip_message"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Namespace  string `mapstructure:"namespace"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment (including a .env file),
// and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("MINTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Oracle.Symbols = normalizeSymbols(cfg.Oracle.Symbols)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mintwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "10s")
	v.SetDefault("scheduler.tick_timeout", "45s")

	v.SetDefault("oracle.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("oracle.vs_currency", "usd")
	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.user_agent", "mintwatch/1.0")
	v.SetDefault("oracle.symbols", map[string]string{
		"BTC": "bitcoin",
		"ETH": "ethereum",
		"SOL": "solana",
	})

	v.SetDefault("solana.enabled", true)
	v.SetDefault("solana.ws_url", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("solana.mint_address", "")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.reconnect_delay", "10s")
	v.SetDefault("solana.subscribe_timeout", "30s")
	v.SetDefault("solana.handshake_timeout", "10s")
	v.SetDefault("solana.write_timeout", "10s")
	v.SetDefault("solana.ping_interval", "30s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.api_endpoint", "https://api.telegram.org/bot%s/%s")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("telegram.request_timeout", "10s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.concurrency", 8)
	v.SetDefault("alerting.record_quotes", true)

	v.SetDefault("celebration.buy_category", "buy")
	v.SetDefault("celebration.price_up_category", "price_up")
	v.SetDefault("celebration.fallback_message", "")

	v.SetDefault("broadcast.concurrency", 8)
	v.SetDefault("broadcast.tip_enabled", false)
	v.SetDefault("broadcast.tip_interval", "168h")
	v.SetDefault("broadcast.tip_startup_delay", "10s")
	v.SetDefault("broadcast.tip_message", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9102")
	v.SetDefault("metrics.namespace", "mintwatch")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// viper lower-cases map keys, so symbols are restored to ticker form here.
func normalizeSymbols(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for symbol, id := range in {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		id = strings.TrimSpace(id)
		if symbol == "" || id == "" {
			continue
		}
		out[symbol] = id
	}
	return out
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerting.Concurrency < 1 {
		return fmt.Errorf("alerting.concurrency must be at least 1")
	}
	if len(c.Oracle.Symbols) == 0 {
		return fmt.Errorf("oracle.symbols must map at least one symbol")
	}
	if c.Oracle.VsCurrency == "" {
		return fmt.Errorf("oracle.vs_currency is required")
	}
	if c.Solana.Enabled {
		if c.Solana.WSURL == "" {
			return fmt.Errorf("solana.ws_url is required")
		}
		if err := ValidateMintAddress(c.Solana.MintAddress); err != nil {
			return fmt.Errorf("solana.mint_address: %w", err)
		}
		if c.Solana.ReconnectDelay <= 0 {
			return fmt.Errorf("solana.reconnect_delay must be greater than zero")
		}
	}
	if c.Broadcast.Concurrency < 1 {
		return fmt.Errorf("broadcast.concurrency must be at least 1")
	}
	if c.Broadcast.TipEnabled {
		if c.Broadcast.TipInterval <= 0 {
			return fmt.Errorf("broadcast.tip_interval must be greater than zero")
		}
		if strings.TrimSpace(c.Broadcast.TipMessage) == "" {
			return fmt.Errorf("broadcast.tip_message is required when tips are enabled")
		}
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}
	return nil
}

// ValidateMintAddress checks that addr is a base58 encoded 32-byte public key.
func ValidateMintAddress(addr string) error {
	if addr == "" {
		return errors.New("address is empty")
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid base58: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
