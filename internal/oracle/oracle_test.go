package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func newTestOracle(baseURL string) *CoinGecko {
	return NewCoinGecko(CoinGeckoOptions{
		BaseURL:    baseURL,
		VsCurrency: "USD",
		Timeout:    time.Second,
		UserAgent:  "test",
		Symbols:    map[string]string{"btc": "bitcoin", "ETH": "ethereum"},
	}, zerolog.Nop())
}

func TestCoinGeckoFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("ids"); got != "bitcoin" {
			t.Errorf("ids = %q, want bitcoin", got)
		}
		if got := r.URL.Query().Get("vs_currencies"); got != "usd" {
			t.Errorf("vs_currencies = %q, want usd", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":50000.25}}`))
	}))
	defer srv.Close()

	quote, err := newTestOracle(srv.URL).FetchQuote(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if !quote.Available {
		t.Fatal("quote should be available")
	}
	if !quote.Price.Equal(decimal.RequireFromString("50000.25")) {
		t.Fatalf("price = %s, want 50000.25", quote.Price)
	}
	if quote.Symbol != "BTC" {
		t.Fatalf("symbol = %q", quote.Symbol)
	}
}

func TestCoinGeckoUnsupportedSymbolSkipsRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	o := newTestOracle(srv.URL)
	if o.Supports("DOGE") {
		t.Fatal("DOGE is not configured")
	}
	quote, err := o.FetchQuote(context.Background(), "DOGE")
	if err != nil {
		t.Fatalf("unsupported symbol is not an error: %v", err)
	}
	if quote.Available {
		t.Fatal("unsupported symbol must be unavailable")
	}
	if calls.Load() != 0 {
		t.Fatal("no request expected for an unsupported symbol")
	}
}

func TestCoinGeckoMissingCurrencyIsUnavailable(t *testing.T) {
	bodies := []string{
		`{"bitcoin":{"eur":48000}}`,
		`{}`,
		`{"bitcoin":{"usd":0}}`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		quote, err := newTestOracle(srv.URL).FetchQuote(context.Background(), "btc")
		srv.Close()
		if err != nil {
			t.Fatalf("%s: missing price is not an error: %v", body, err)
		}
		if quote.Available {
			t.Fatalf("%s: quote must be unavailable", body)
		}
	}
}

func TestCoinGeckoHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"status":{"error_code":429,"error_message":"rate limited"}}`))
	}))
	defer srv.Close()

	_, err := newTestOracle(srv.URL).FetchQuote(context.Background(), "ETH")
	if err == nil {
		t.Fatal("HTTP 429 should return an error")
	}
}

func TestCoinGeckoMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	if _, err := newTestOracle(srv.URL).FetchQuote(context.Background(), "ETH"); err == nil {
		t.Fatal("malformed body should return an error")
	}
}

func TestStaticOracle(t *testing.T) {
	s := NewStatic(map[string]decimal.Decimal{"sol": decimal.NewFromInt(150)})

	q, err := s.FetchQuote(context.Background(), "SOL")
	if err != nil || !q.Available || !q.Price.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected quote %+v (%v)", q, err)
	}

	q, _ = s.FetchQuote(context.Background(), "BTC")
	if q.Available {
		t.Fatal("unknown symbol must be unavailable")
	}

	s.Set("btc", decimal.NewFromInt(1))
	if !s.Supports("BTC") {
		t.Fatal("Set should register the symbol")
	}
}
