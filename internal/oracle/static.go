package oracle

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"mintwatch/internal/storage"
)

// Static serves fixed prices. Symbols without a price are unsupported.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStatic builds a Static oracle from symbol -> price.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{prices: make(map[string]decimal.Decimal, len(prices))}
	for symbol, price := range prices {
		s.prices[storage.NormalizeSymbol(symbol)] = price
	}
	return s
}

// Set replaces the price of symbol.
func (s *Static) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[storage.NormalizeSymbol(symbol)] = price
}

func (s *Static) Supports(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.prices[storage.NormalizeSymbol(symbol)]
	return ok
}

func (s *Static) FetchQuote(_ context.Context, symbol string) (Quote, error) {
	symbol = storage.NormalizeSymbol(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[symbol]
	if !ok || !price.IsPositive() {
		return Quote{Symbol: symbol}, nil
	}
	return Quote{Symbol: symbol, Price: price, Available: true}, nil
}

var _ PriceOracle = (*Static)(nil)
