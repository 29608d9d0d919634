package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"stockdash/internal/models"
)

// ErrUnavailable is returned for every failure at the provider boundary:
// transport errors, rate limiting, unknown symbols and empty series all
// collapse to it. Callers get a quote or an absence, never a partial quote.
var ErrUnavailable = errors.New("market data unavailable")

const (
	chartBaseURL = "https://query2.finance.yahoo.com/v8/finance/chart"
	quoteBaseURL = "https://query1.finance.yahoo.com/v7/finance/quote"

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
)

// Client fetches quotes and historical series from the Yahoo Finance chart
// and quote endpoints. It applies no retries; a failed call is reported as
// unavailable and the next cycle tries again.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	chartURL   string
	quoteURL   string
	log        zerolog.Logger
}

type Option func(*Client)

// WithBaseURLs overrides the provider endpoints, used by tests.
func WithBaseURLs(chartURL, quoteURL string) Option {
	return func(c *Client) {
		c.chartURL = chartURL
		c.quoteURL = quoteURL
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		chartURL:   chartBaseURL,
		quoteURL:   quoteBaseURL,
		log:        log.With().Str("component", "market").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chartPayload struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				ShortName string `json:"shortName"`
				LongName  string `json:"longName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchQuote returns the current quote for symbol. Change is computed from
// the closes of the two most recent sessions; with a single session on
// record the change is zero. Percent change is zero when the prior close is
// zero.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	symbol = normalize(symbol)
	if symbol == "" {
		return models.Quote{}, fmt.Errorf("empty symbol: %w", ErrUnavailable)
	}

	payload, err := c.fetchChart(ctx, symbol, "2d", "1d")
	if err != nil {
		return models.Quote{}, err
	}

	result := payload.Chart.Result[0]
	closes, volumes := sessionValues(result.Indicators.Quote[0].Close, result.Indicators.Quote[0].Volume)
	if len(closes) == 0 {
		return models.Quote{}, fmt.Errorf("%s: no sessions in chart: %w", symbol, ErrUnavailable)
	}

	current := closes[len(closes)-1]
	previous := current
	if len(closes) > 1 {
		previous = closes[len(closes)-2]
	}
	change := current - previous
	changePct := 0.0
	if previous != 0 {
		changePct = change / previous * 100
	}

	var volume int64
	if len(volumes) > 0 {
		volume = volumes[len(volumes)-1]
	}

	name := result.Meta.LongName
	if name == "" {
		name = result.Meta.ShortName
	}
	if name == "" {
		name = symbol
	}

	quote := models.Quote{
		Symbol:        symbol,
		Name:          name,
		Price:         current,
		Change:        change,
		ChangePercent: changePct,
		Volume:        volume,
		FetchedAt:     time.Now().UTC(),
	}

	// Fundamentals come from a second endpoint; missing fundamentals never
	// fail the quote.
	c.enrich(ctx, &quote)

	return quote, nil
}

// FetchHistory returns the OHLCV series for symbol over period, oldest bar
// first. Bars with a missing close are dropped.
func (c *Client) FetchHistory(ctx context.Context, symbol string, period models.Period) ([]models.Candle, error) {
	symbol = normalize(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol: %w", ErrUnavailable)
	}

	interval := "1d"
	if period == models.Period1D {
		interval = "5m"
	}

	payload, err := c.fetchChart(ctx, symbol, string(period), interval)
	if err != nil {
		return nil, err
	}

	result := payload.Chart.Result[0]
	bars := result.Indicators.Quote[0]

	candles := make([]models.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(bars.Close) || bars.Close[i] == nil {
			continue
		}
		candle := models.Candle{
			Time:  time.Unix(ts, 0).UTC(),
			Close: *bars.Close[i],
		}
		if i < len(bars.Open) && bars.Open[i] != nil {
			candle.Open = *bars.Open[i]
		}
		if i < len(bars.High) && bars.High[i] != nil {
			candle.High = *bars.High[i]
		}
		if i < len(bars.Low) && bars.Low[i] != nil {
			candle.Low = *bars.Low[i]
		}
		if i < len(bars.Volume) && bars.Volume[i] != nil {
			candle.Volume = *bars.Volume[i]
		}
		candles = append(candles, candle)
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("%s: empty series for period %s: %w", symbol, period, ErrUnavailable)
	}
	return candles, nil
}

func (c *Client) fetchChart(ctx context.Context, symbol, rng, interval string) (*chartPayload, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: limiter: %v: %w", symbol, err, ErrUnavailable)
	}

	endpoint := fmt.Sprintf("%s/%s?range=%s&interval=%s", c.chartURL, url.PathEscape(symbol), rng, interval)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %v: %w", symbol, err, ErrUnavailable)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: chart request: %v: %w", symbol, err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: chart status %d: %w", symbol, resp.StatusCode, ErrUnavailable)
	}

	var payload chartPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%s: decode chart: %v: %w", symbol, err, ErrUnavailable)
	}

	if payload.Chart.Error != nil {
		return nil, fmt.Errorf("%s: chart error %s: %w", symbol, payload.Chart.Error.Code, ErrUnavailable)
	}
	if len(payload.Chart.Result) == 0 || len(payload.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%s: empty chart result: %w", symbol, ErrUnavailable)
	}
	return &payload, nil
}

// enrich fills market cap, P/E and dividend yield from the quote endpoint.
// Best effort: any failure leaves the optionals nil.
func (c *Client) enrich(ctx context.Context, quote *models.Quote) {
	if err := c.limiter.Wait(ctx); err != nil {
		return
	}

	endpoint := c.quoteURL + "?symbols=" + url.QueryEscape(quote.Symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Str("symbol", quote.Symbol).Err(err).Msg("fundamentals fetch failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return
	}

	var payload struct {
		QuoteResponse struct {
			Result []struct {
				MarketCap     *float64 `json:"marketCap"`
				TrailingPE    *float64 `json:"trailingPE"`
				DividendYield *float64 `json:"trailingAnnualDividendYield"`
			} `json:"result"`
		} `json:"quoteResponse"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return
	}
	if len(payload.QuoteResponse.Result) == 0 {
		return
	}

	r := payload.QuoteResponse.Result[0]
	quote.MarketCap = r.MarketCap
	quote.PERatio = r.TrailingPE
	quote.DividendYield = r.DividendYield
}

// sessionValues flattens nullable close/volume columns, dropping sessions
// without a close.
func sessionValues(closes []*float64, volumes []*int64) ([]float64, []int64) {
	outCloses := make([]float64, 0, len(closes))
	outVolumes := make([]int64, 0, len(closes))
	for i, cl := range closes {
		if cl == nil {
			continue
		}
		outCloses = append(outCloses, *cl)
		if i < len(volumes) && volumes[i] != nil {
			outVolumes = append(outVolumes, *volumes[i])
		} else {
			outVolumes = append(outVolumes, 0)
		}
	}
	return outCloses, outVolumes
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
