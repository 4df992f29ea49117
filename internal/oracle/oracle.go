// Package oracle fetches spot prices for ticker symbols.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mintwatch/internal/storage"
)

// Quote is a point-in-time price observation. Available is false when the
// oracle had no usable price for the symbol.
type Quote struct {
	Symbol    string
	Price     decimal.Decimal
	Available bool
}

// PriceOracle returns the current price of a symbol.
type PriceOracle interface {
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
	Supports(symbol string) bool
}

// CoinGeckoOptions parameterise the CoinGecko client.
type CoinGeckoOptions struct {
	BaseURL    string
	VsCurrency string
	Timeout    time.Duration
	UserAgent  string
	// Symbols maps ticker symbols to CoinGecko coin ids.
	Symbols map[string]string
}

// CoinGecko queries the public simple/price endpoint.
type CoinGecko struct {
	opts    CoinGeckoOptions
	symbols map[string]string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewCoinGecko constructs a CoinGecko oracle.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}
	opts.VsCurrency = strings.ToLower(opts.VsCurrency)

	symbols := make(map[string]string, len(opts.Symbols))
	for symbol, id := range opts.Symbols {
		symbols[storage.NormalizeSymbol(symbol)] = id
	}

	return &CoinGecko{
		opts:    opts,
		symbols: symbols,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "oracle").Logger(),
	}
}

// Supports reports whether symbol maps to a known coin id.
func (c *CoinGecko) Supports(symbol string) bool {
	_, ok := c.symbols[storage.NormalizeSymbol(symbol)]
	return ok
}

// FetchQuote retrieves the current price of symbol.
func (c *CoinGecko) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	symbol = storage.NormalizeSymbol(symbol)
	quote := Quote{Symbol: symbol}

	id, ok := c.symbols[symbol]
	if !ok {
		return quote, nil
	}

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", c.opts.VsCurrency)
	endpoint := c.baseURL + "/simple/price?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return quote, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "mintwatch/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return quote, fmt.Errorf("coingecko request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return quote, fmt.Errorf("read coingecko response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return quote, parseHTTPError(resp.StatusCode, payload)
	}

	var prices map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(payload, &prices); err != nil {
		return quote, fmt.Errorf("decode coingecko response: %w", err)
	}

	price, ok := prices[id][c.opts.VsCurrency]
	if !ok || !price.IsPositive() {
		c.logger.Warn().Str("symbol", symbol).Str("coin_id", id).Msg("no usable price in response")
		return quote, nil
	}

	quote.Price = price
	quote.Available = true
	return quote, nil
}

type errorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("coingecko api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

var _ PriceOracle = (*CoinGecko)(nil)
