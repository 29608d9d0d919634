package models

import "time"

// Quote is a point-in-time price record for a symbol. Quotes are replaced
// wholesale on refresh, never mutated in place.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        int64     `json:"volume"`
	MarketCap     *float64  `json:"marketCap,omitempty"`
	PERatio       *float64  `json:"peRatio,omitempty"`
	DividendYield *float64  `json:"dividendYield,omitempty"`
	FetchedAt     time.Time `json:"fetchedAt"`
}

// Candle is one OHLCV bar of a historical price series.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Period selects the span of a historical series.
type Period string

const (
	Period1D Period = "1d"
	Period5D Period = "5d"
	Period1M Period = "1mo"
	Period3M Period = "3mo"
	Period6M Period = "6mo"
	Period1Y Period = "1y"
	Period2Y Period = "2y"
)

// ParsePeriod validates a raw period string. The empty string defaults to 1mo.
func ParsePeriod(raw string) (Period, bool) {
	if raw == "" {
		return Period1M, true
	}
	switch p := Period(raw); p {
	case Period1D, Period5D, Period1M, Period3M, Period6M, Period1Y, Period2Y:
		return p, true
	}
	return "", false
}

// Holding is a recorded purchase lot. Holdings are append-only: once created
// they are never updated or removed.
type Holding struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Shares        float64   `json:"shares"`
	PurchasePrice float64   `json:"purchasePrice"`
	PurchasedAt   time.Time `json:"purchasedAt"`
}

// MarketSnapshot is the mapping of tracked symbols to their latest known
// quotes, as consumed by the presentation layer and the portfolio summary.
type MarketSnapshot struct {
	Quotes    map[string]Quote `json:"quotes"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// HoldingValuation is one ledger row priced against the current snapshot.
// Priced is false when the snapshot has no quote for the symbol; such rows
// contribute to neither total.
type HoldingValuation struct {
	Holding
	Priced      bool    `json:"priced"`
	Price       float64 `json:"price"`
	MarketValue float64 `json:"marketValue"`
	CostBasis   float64 `json:"costBasis"`
	PnL         float64 `json:"pnl"`
	PnLPercent  float64 `json:"pnlPercent"`
}

// PortfolioSummary is derived from holdings plus a market snapshot on every
// request and never stored.
type PortfolioSummary struct {
	Holdings       []HoldingValuation `json:"holdings"`
	TotalValue     float64            `json:"totalValue"`
	TotalCost      float64            `json:"totalCost"`
	PnL            float64            `json:"pnl"`
	PnLPercent     float64            `json:"pnlPercent"`
	TotalValueText string             `json:"totalValueText"`
	TotalCostText  string             `json:"totalCostText"`
	PnLText        string             `json:"pnlText"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}
