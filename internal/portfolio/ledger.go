// Package portfolio keeps the in-memory holdings ledger and watchlist.
// Nothing here is persisted; both live for the process lifetime only.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockdash/internal/format"
	"stockdash/internal/models"
)

// ErrInvalidInput marks rejected ledger mutations. Validation happens
// before any state change.
var ErrInvalidInput = errors.New("invalid input")

// DefaultWatchlist seeds a fresh ledger.
var DefaultWatchlist = []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN", "NVDA", "META", "NFLX"}

// Ledger is an append-only list of holdings plus a watchlist set with
// insertion order preserved for display. Holdings cannot be updated or
// removed; only watchlist entries can be removed.
type Ledger struct {
	now func() time.Time

	mu        sync.RWMutex
	holdings  []models.Holding
	watchlist []string
	watched   map[string]bool
}

func NewLedger(watchlist ...string) *Ledger {
	l := &Ledger{
		now:     time.Now,
		watched: make(map[string]bool),
	}
	for _, symbol := range watchlist {
		l.AddToWatchlist(symbol)
	}
	return l
}

// SetNow replaces the clock used for purchase timestamps, for tests.
func (l *Ledger) SetNow(now func() time.Time) {
	l.now = now
}

// AddHolding appends a purchase lot. Shares and price must be positive
// finite numbers and the symbol must be non-empty; anything else is
// rejected before any mutation.
func (l *Ledger) AddHolding(symbol string, shares, price float64) (models.Holding, error) {
	symbol = normalize(symbol)
	if symbol == "" {
		return models.Holding{}, fmt.Errorf("empty symbol: %w", ErrInvalidInput)
	}
	if !positiveFinite(shares) {
		return models.Holding{}, fmt.Errorf("shares must be a positive number: %w", ErrInvalidInput)
	}
	if !positiveFinite(price) {
		return models.Holding{}, fmt.Errorf("price must be a positive number: %w", ErrInvalidInput)
	}

	h := models.Holding{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		Shares:        shares,
		PurchasePrice: price,
		PurchasedAt:   l.now().UTC(),
	}

	l.mu.Lock()
	l.holdings = append(l.holdings, h)
	l.mu.Unlock()
	return h, nil
}

// Holdings returns a copy of the ledger in insertion order.
func (l *Ledger) Holdings() []models.Holding {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Holding, len(l.holdings))
	copy(out, l.holdings)
	return out
}

// AddToWatchlist adds symbol to the watchlist. Adding a symbol already
// present is a no-op; the return reports whether the set changed.
func (l *Ledger) AddToWatchlist(symbol string) bool {
	symbol = normalize(symbol)
	if symbol == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watched[symbol] {
		return false
	}
	l.watched[symbol] = true
	l.watchlist = append(l.watchlist, symbol)
	return true
}

// RemoveFromWatchlist removes symbol from the watchlist. Removing an absent
// symbol is a no-op; the return reports whether the set changed.
func (l *Ledger) RemoveFromWatchlist(symbol string) bool {
	symbol = normalize(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.watched[symbol] {
		return false
	}
	delete(l.watched, symbol)
	for i, s := range l.watchlist {
		if s == symbol {
			l.watchlist = append(l.watchlist[:i], l.watchlist[i+1:]...)
			break
		}
	}
	return true
}

// Watchlist returns the watched symbols in insertion order.
func (l *Ledger) Watchlist() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.watchlist))
	copy(out, l.watchlist)
	return out
}

// Summary prices the ledger against a market snapshot. Holdings whose
// symbol has no quote in the snapshot are excluded from both totals rather
// than counted as zero value. PnLPercent is 0 when the total cost is 0.
func (l *Ledger) Summary(snapshot models.MarketSnapshot) models.PortfolioSummary {
	holdings := l.Holdings()

	out := models.PortfolioSummary{
		Holdings:  make([]models.HoldingValuation, 0, len(holdings)),
		UpdatedAt: snapshot.UpdatedAt,
	}

	for _, h := range holdings {
		row := models.HoldingValuation{Holding: h}
		quote, ok := snapshot.Quotes[h.Symbol]
		if ok {
			value := h.Shares * quote.Price
			cost := h.Shares * h.PurchasePrice
			pnl := value - cost
			pnlPct := 0.0
			if cost > 0 {
				pnlPct = pnl / cost * 100
			}

			row.Priced = true
			row.Price = round2(quote.Price)
			row.MarketValue = round2(value)
			row.CostBasis = round2(cost)
			row.PnL = round2(pnl)
			row.PnLPercent = round2(pnlPct)

			out.TotalValue += value
			out.TotalCost += cost
		}
		out.Holdings = append(out.Holdings, row)
	}

	out.PnL = out.TotalValue - out.TotalCost
	if out.TotalCost > 0 {
		out.PnLPercent = round2(out.PnL / out.TotalCost * 100)
	}
	out.TotalValue = round2(out.TotalValue)
	out.TotalCost = round2(out.TotalCost)
	out.PnL = round2(out.PnL)
	out.TotalValueText = format.Currency(out.TotalValue)
	out.TotalCostText = format.Currency(out.TotalCost)
	out.PnLText = format.Currency(out.PnL)

	return out
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
