package portfolio

import (
	"errors"
	"math"
	"testing"
	"time"

	"stockdash/internal/models"
)

func snapshotWith(prices map[string]float64) models.MarketSnapshot {
	quotes := make(map[string]models.Quote, len(prices))
	for symbol, price := range prices {
		quotes[symbol] = models.Quote{Symbol: symbol, Price: price}
	}
	return models.MarketSnapshot{Quotes: quotes, UpdatedAt: time.Now().UTC()}
}

func TestAddHoldingValidation(t *testing.T) {
	l := NewLedger()

	cases := []struct {
		name   string
		symbol string
		shares float64
		price  float64
	}{
		{"empty symbol", "", 1, 100},
		{"zero shares", "AAPL", 0, 100},
		{"negative shares", "AAPL", -2, 100},
		{"nan shares", "AAPL", math.NaN(), 100},
		{"zero price", "AAPL", 1, 0},
		{"negative price", "AAPL", 1, -5},
		{"inf price", "AAPL", 1, math.Inf(1)},
	}
	for _, tc := range cases {
		if _, err := l.AddHolding(tc.symbol, tc.shares, tc.price); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
	if len(l.Holdings()) != 0 {
		t.Fatalf("rejected inputs must not mutate the ledger, got %d holdings", len(l.Holdings()))
	}
}

func TestAddHoldingNormalizesAndTimestamps(t *testing.T) {
	l := NewLedger()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.SetNow(func() time.Time { return fixed })

	h, err := l.AddHolding(" aapl ", 10, 150)
	if err != nil {
		t.Fatalf("add holding: %v", err)
	}
	if h.Symbol != "AAPL" {
		t.Fatalf("expected normalized symbol AAPL, got %q", h.Symbol)
	}
	if h.ID == "" {
		t.Fatal("expected generated holding id")
	}
	if !h.PurchasedAt.Equal(fixed) {
		t.Fatalf("expected purchase time %v, got %v", fixed, h.PurchasedAt)
	}
}

func TestWatchlistIdempotent(t *testing.T) {
	l := NewLedger()

	if !l.AddToWatchlist("AAPL") {
		t.Fatal("first add should change the set")
	}
	if l.AddToWatchlist("aapl") {
		t.Fatal("second add of the same symbol should be a no-op")
	}
	if got := l.Watchlist(); len(got) != 1 || got[0] != "AAPL" {
		t.Fatalf("expected exactly one AAPL entry, got %v", got)
	}

	if !l.RemoveFromWatchlist("AAPL") {
		t.Fatal("removing a present symbol should change the set")
	}
	if l.RemoveFromWatchlist("AAPL") {
		t.Fatal("removing an absent symbol should be a no-op")
	}
	if got := l.Watchlist(); len(got) != 0 {
		t.Fatalf("expected empty watchlist, got %v", got)
	}
}

func TestWatchlistPreservesInsertionOrder(t *testing.T) {
	l := NewLedger("MSFT", "AAPL", "TSLA")
	l.RemoveFromWatchlist("AAPL")
	l.AddToWatchlist("NVDA")

	got := l.Watchlist()
	want := []string{"MSFT", "TSLA", "NVDA"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSummarySingleHolding(t *testing.T) {
	l := NewLedger()
	if _, err := l.AddHolding("AAPL", 10, 150); err != nil {
		t.Fatalf("add holding: %v", err)
	}

	sum := l.Summary(snapshotWith(map[string]float64{"AAPL": 165}))
	if sum.TotalValue != 1650 || sum.TotalCost != 1500 {
		t.Fatalf("unexpected totals: value=%v cost=%v", sum.TotalValue, sum.TotalCost)
	}
	if sum.PnL != 150 || sum.PnLPercent != 10.0 {
		t.Fatalf("unexpected pnl: %v (%v%%)", sum.PnL, sum.PnLPercent)
	}
	if sum.TotalValueText != "$1.65K" {
		t.Fatalf("unexpected formatted value: %q", sum.TotalValueText)
	}
}

func TestSummaryExcludesUnpricedHoldings(t *testing.T) {
	l := NewLedger()
	if _, err := l.AddHolding("AAPL", 10, 150); err != nil {
		t.Fatalf("add AAPL: %v", err)
	}
	if _, err := l.AddHolding("ZZZZ", 5, 50); err != nil {
		t.Fatalf("add ZZZZ: %v", err)
	}

	sum := l.Summary(snapshotWith(map[string]float64{"AAPL": 165}))

	// The unpriced lot contributes to neither side of the ledger.
	if sum.TotalValue != 1650 || sum.TotalCost != 1500 {
		t.Fatalf("unpriced holding leaked into totals: value=%v cost=%v", sum.TotalValue, sum.TotalCost)
	}
	if len(sum.Holdings) != 2 {
		t.Fatalf("expected both rows present, got %d", len(sum.Holdings))
	}
	for _, row := range sum.Holdings {
		switch row.Symbol {
		case "AAPL":
			if !row.Priced || row.MarketValue != 1650 {
				t.Fatalf("unexpected AAPL row: %+v", row)
			}
		case "ZZZZ":
			if row.Priced || row.MarketValue != 0 {
				t.Fatalf("unexpected ZZZZ row: %+v", row)
			}
		}
	}
}

func TestSummaryZeroCost(t *testing.T) {
	l := NewLedger()
	sum := l.Summary(snapshotWith(nil))
	if sum.PnLPercent != 0 {
		t.Fatalf("expected zero pnl percent on empty ledger, got %v", sum.PnLPercent)
	}
	if sum.TotalValueText != "$0.00" {
		t.Fatalf("unexpected formatted value: %q", sum.TotalValueText)
	}
}
