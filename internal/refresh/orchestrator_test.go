package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stockdash/internal/models"
	"stockdash/internal/quotecache"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	prices  map[string]float64
	failing map[string]bool
	block   chan struct{}
}

func (f *scriptedFetcher) FetchQuote(_ context.Context, symbol string) (models.Quote, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[symbol] {
		return models.Quote{}, errors.New("provider down")
	}
	price, ok := f.prices[symbol]
	if !ok {
		return models.Quote{}, errors.New("unknown symbol")
	}
	return models.Quote{Symbol: symbol, Price: price}, nil
}

func (f *scriptedFetcher) setFailing(symbol string, failing bool) {
	f.mu.Lock()
	f.failing[symbol] = failing
	f.mu.Unlock()
}

type staticWatchlist []string

func (w staticWatchlist) Watchlist() []string { return w }

func TestRefreshTrackedSkipsFailures(t *testing.T) {
	fetcher := &scriptedFetcher{
		prices:  map[string]float64{"^GSPC": 5000, "AAPL": 180},
		failing: map[string]bool{"MSFT": true},
	}
	cache := quotecache.New(fetcher, time.Minute)
	o := NewOrchestrator(cache, staticWatchlist{"AAPL", "MSFT"}, []Index{{Symbol: "^GSPC", Name: "S&P 500"}}, zerolog.Nop())

	snap, ok := o.RefreshTracked(context.Background())
	if !ok {
		t.Fatal("expected refresh to run")
	}
	if len(snap.Quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d: %+v", len(snap.Quotes), snap.Quotes)
	}
	if _, present := snap.Quotes["MSFT"]; present {
		t.Fatal("failed symbol must stay absent from the snapshot")
	}
	if snap.Quotes["AAPL"].Price != 180 || snap.Quotes["^GSPC"].Price != 5000 {
		t.Fatalf("unexpected snapshot: %+v", snap.Quotes)
	}
}

func TestRefreshTrackedKeepsLastGoodQuote(t *testing.T) {
	fetcher := &scriptedFetcher{
		prices:  map[string]float64{"AAPL": 180},
		failing: map[string]bool{},
	}
	// A zero TTL forces a refetch on every cycle.
	cache := quotecache.New(fetcher, time.Nanosecond)
	o := NewOrchestrator(cache, staticWatchlist{"AAPL"}, nil, zerolog.Nop())

	if _, ok := o.RefreshTracked(context.Background()); !ok {
		t.Fatal("seed refresh should run")
	}

	fetcher.setFailing("AAPL", true)
	snap, ok := o.RefreshTracked(context.Background())
	if !ok {
		t.Fatal("second refresh should run")
	}
	if snap.Quotes["AAPL"].Price != 180 {
		t.Fatalf("transient failure must not blank the last good quote: %+v", snap.Quotes)
	}
}

func TestRefreshTrackedDeduplicatesSymbols(t *testing.T) {
	fetcher := &scriptedFetcher{
		prices:  map[string]float64{"AAPL": 180, "^VIX": 15},
		failing: map[string]bool{},
	}
	cache := quotecache.New(fetcher, time.Minute)
	// AAPL appears both as an index and on the watchlist.
	o := NewOrchestrator(cache, staticWatchlist{"AAPL"}, []Index{{Symbol: "^VIX", Name: "VIX"}, {Symbol: "AAPL", Name: "Apple"}}, zerolog.Nop())

	tracked := o.Tracked()
	if len(tracked) != 2 {
		t.Fatalf("expected deduplicated tracked set, got %v", tracked)
	}
	if tracked[0] != "^VIX" || tracked[1] != "AAPL" {
		t.Fatalf("expected index-first ordering, got %v", tracked)
	}
}

func TestOverlappingRefreshCoalesced(t *testing.T) {
	fetcher := &scriptedFetcher{
		prices:  map[string]float64{"AAPL": 180},
		failing: map[string]bool{},
		block:   make(chan struct{}),
	}
	cache := quotecache.New(fetcher, time.Minute)
	o := NewOrchestrator(cache, staticWatchlist{"AAPL"}, nil, zerolog.Nop())

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		o.RefreshTracked(context.Background())
		close(done)
	}()

	<-started
	// Give the goroutine time to take the in-flight lock and block in the
	// fetcher.
	time.Sleep(20 * time.Millisecond)

	if _, ok := o.RefreshTracked(context.Background()); ok {
		t.Fatal("second cycle should be coalesced while one is in flight")
	}

	close(fetcher.block)
	<-done

	fetcher.block = nil
	if _, ok := o.RefreshTracked(context.Background()); !ok {
		t.Fatal("refresh should run again once the first cycle finished")
	}
}

func TestRunInvokesHookAndStopsOnCancel(t *testing.T) {
	fetcher := &scriptedFetcher{
		prices:  map[string]float64{"AAPL": 180},
		failing: map[string]bool{},
	}
	cache := quotecache.New(fetcher, time.Minute)
	o := NewOrchestrator(cache, staticWatchlist{"AAPL"}, nil, zerolog.Nop())

	snapshots := make(chan models.MarketSnapshot, 1)
	o.OnRefresh(func(s models.MarketSnapshot) {
		select {
		case snapshots <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		o.Run(ctx, time.Hour)
		close(stopped)
	}()

	select {
	case snap := <-snapshots:
		if snap.Quotes["AAPL"].Price != 180 {
			t.Fatalf("unexpected snapshot from hook: %+v", snap.Quotes)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hook not invoked by initial refresh")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
