// Package refresh drives the periodic quote refresh cycle over all tracked
// symbols.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stockdash/internal/models"
	"stockdash/internal/quotecache"
)

// Index is a market index tracked on every cycle alongside the watchlist.
type Index struct {
	Symbol string
	Name   string
}

// DefaultIndices mirrors the dashboard's market overview row.
var DefaultIndices = []Index{
	{Symbol: "^GSPC", Name: "S&P 500"},
	{Symbol: "^DJI", Name: "Dow Jones"},
	{Symbol: "^IXIC", Name: "NASDAQ"},
	{Symbol: "^VIX", Name: "VIX"},
}

// WatchlistSource supplies the user-curated symbols to track. Implemented
// by portfolio.Ledger.
type WatchlistSource interface {
	Watchlist() []string
}

// Orchestrator walks the tracked symbols through the quote cache and builds
// the shared market snapshot. A symbol whose fetch fails this cycle keeps
// its last good quote; one bad symbol never blanks the rest.
type Orchestrator struct {
	cache     *quotecache.Cache
	watchlist WatchlistSource
	indices   []Index
	onRefresh func(models.MarketSnapshot)
	log       zerolog.Logger

	// inFlight coalesces overlapping cycles: a tick or manual trigger that
	// arrives while a refresh is running is dropped.
	inFlight sync.Mutex
}

func NewOrchestrator(cache *quotecache.Cache, watchlist WatchlistSource, indices []Index, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cache:     cache,
		watchlist: watchlist,
		indices:   indices,
		log:       log.With().Str("component", "refresh").Logger(),
	}
}

// OnRefresh registers a hook invoked with the snapshot after every
// completed cycle. Must be set before Run.
func (o *Orchestrator) OnRefresh(fn func(models.MarketSnapshot)) {
	o.onRefresh = fn
}

// Indices returns the fixed indices tracked on every cycle.
func (o *Orchestrator) Indices() []Index {
	return o.indices
}

// Tracked returns indices plus watchlist, deduplicated, display order
// preserved.
func (o *Orchestrator) Tracked() []string {
	watch := o.watchlist.Watchlist()
	out := make([]string, 0, len(o.indices)+len(watch))
	seen := make(map[string]bool, len(o.indices)+len(watch))
	for _, idx := range o.indices {
		if !seen[idx.Symbol] {
			seen[idx.Symbol] = true
			out = append(out, idx.Symbol)
		}
	}
	for _, symbol := range watch {
		if !seen[symbol] {
			seen[symbol] = true
			out = append(out, symbol)
		}
	}
	return out
}

// RefreshTracked refreshes every tracked symbol through the cache and
// returns the resulting snapshot. It returns ok=false without doing any
// work when another cycle is already in flight.
func (o *Orchestrator) RefreshTracked(ctx context.Context) (models.MarketSnapshot, bool) {
	if !o.inFlight.TryLock() {
		return models.MarketSnapshot{}, false
	}
	defer o.inFlight.Unlock()

	tracked := o.Tracked()
	refreshed := 0
	for _, symbol := range tracked {
		if ctx.Err() != nil {
			break
		}
		if _, err := o.cache.Get(ctx, symbol); err != nil {
			o.log.Warn().Str("symbol", symbol).Err(err).Msg("no update this cycle")
			continue
		}
		refreshed++
	}

	snapshot := o.Snapshot()
	o.log.Info().Int("tracked", len(tracked)).Int("refreshed", refreshed).Msg("refresh cycle done")
	return snapshot, true
}

// Snapshot returns the current snapshot without refreshing anything. Every
// symbol for which a quote was ever obtained stays present, stale or not.
func (o *Orchestrator) Snapshot() models.MarketSnapshot {
	return models.MarketSnapshot{
		Quotes:    o.cache.Snapshot(),
		UpdatedAt: time.Now().UTC(),
	}
}

// Run refreshes immediately and then on every tick of interval until ctx is
// cancelled. Ticks that fire mid-cycle are coalesced away by RefreshTracked.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.refreshAndNotify(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.refreshAndNotify(ctx)
		}
	}
}

func (o *Orchestrator) refreshAndNotify(ctx context.Context) {
	snapshot, ok := o.RefreshTracked(ctx)
	if !ok {
		o.log.Debug().Msg("refresh already in flight, tick skipped")
		return
	}
	if o.onRefresh != nil {
		o.onRefresh(snapshot)
	}
}
