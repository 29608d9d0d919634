package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"stockdash/internal/market"
	"stockdash/internal/models"
	"stockdash/internal/portfolio"
	"stockdash/internal/realtime"
	"stockdash/internal/refresh"
)

type Server struct {
	quotes   QuoteGetter
	history  HistoryFetcher
	refresh  Refresher
	ledger   *portfolio.Ledger
	hub      *realtime.Hub
	router   *mux.Router
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// QuoteGetter fetches a quote through the TTL cache.
type QuoteGetter interface {
	Get(ctx context.Context, symbol string) (models.Quote, error)
}

// HistoryFetcher fetches a historical OHLCV series.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, symbol string, period models.Period) ([]models.Candle, error)
}

// Refresher drives and exposes the shared market snapshot.
type Refresher interface {
	RefreshTracked(ctx context.Context) (models.MarketSnapshot, bool)
	Snapshot() models.MarketSnapshot
	Indices() []refresh.Index
}

func NewServer(quotes QuoteGetter, history HistoryFetcher, refresher Refresher, ledger *portfolio.Ledger, hub *realtime.Hub, log zerolog.Logger) *Server {
	server := &Server{
		quotes:  quotes,
		history: history,
		refresh: refresher,
		ledger:  ledger,
		hub:     hub,
		log:     log.With().Str("component", "api").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/api/health", server.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/market", server.handleMarket).Methods(http.MethodGet)
	r.HandleFunc("/api/quotes/{symbol}", server.handleQuote).Methods(http.MethodGet)
	r.HandleFunc("/api/history/{symbol}", server.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/watchlist", server.handleListWatchlist).Methods(http.MethodGet)
	r.HandleFunc("/api/watchlist", server.handleAddWatchlist).Methods(http.MethodPost)
	r.HandleFunc("/api/watchlist/{symbol}", server.handleRemoveWatchlist).Methods(http.MethodDelete)
	r.HandleFunc("/api/holdings", server.handleListHoldings).Methods(http.MethodGet)
	r.HandleFunc("/api/holdings", server.handleCreateHolding).Methods(http.MethodPost)
	r.HandleFunc("/api/portfolio", server.handlePortfolio).Methods(http.MethodGet)
	r.HandleFunc("/api/refresh", server.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/ws", server.handleWebSocket).Methods(http.MethodGet)

	// Serve the dashboard SPA (catch-all, must be last)
	spa := spaHandler{staticPath: "web/dist", indexPath: "index.html"}
	r.PathPrefix("/").Handler(spa)

	server.router = r
	return server
}

type spaHandler struct {
	staticPath string
	indexPath  string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(h.staticPath, r.URL.Path)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && fi.IsDir()) {
		http.ServeFile(w, r, filepath.Join(h.staticPath, h.indexPath))
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.FileServer(http.Dir(h.staticPath)).ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// update is the payload pushed to websocket clients and returned by manual
// refreshes.
type update struct {
	Market    marketPayload           `json:"market"`
	Portfolio models.PortfolioSummary `json:"portfolio"`
}

type indexQuote struct {
	Symbol string        `json:"symbol"`
	Name   string        `json:"name"`
	Quote  *models.Quote `json:"quote,omitempty"`
}

type watchQuote struct {
	Symbol string        `json:"symbol"`
	Quote  *models.Quote `json:"quote,omitempty"`
}

type marketPayload struct {
	Indices   []indexQuote `json:"indices"`
	Watchlist []watchQuote `json:"watchlist"`
	UpdatedAt string       `json:"updatedAt"`
}

func (s *Server) buildUpdate(snapshot models.MarketSnapshot) update {
	payload := marketPayload{
		Indices:   make([]indexQuote, 0, len(s.refresh.Indices())),
		Watchlist: make([]watchQuote, 0),
		UpdatedAt: snapshot.UpdatedAt.Format(time.RFC3339),
	}

	for _, idx := range s.refresh.Indices() {
		iq := indexQuote{Symbol: idx.Symbol, Name: idx.Name}
		if q, ok := snapshot.Quotes[idx.Symbol]; ok {
			quote := q
			iq.Quote = &quote
		}
		payload.Indices = append(payload.Indices, iq)
	}

	for _, symbol := range s.ledger.Watchlist() {
		wq := watchQuote{Symbol: symbol}
		if q, ok := snapshot.Quotes[symbol]; ok {
			quote := q
			wq.Quote = &quote
		}
		payload.Watchlist = append(payload.Watchlist, wq)
	}

	return update{Market: payload, Portfolio: s.ledger.Summary(snapshot)}
}

// BroadcastUpdate pushes the snapshot plus the derived portfolio summary to
// every websocket client. Wired as the orchestrator's refresh hook.
func (s *Server) BroadcastUpdate(snapshot models.MarketSnapshot) {
	s.hub.BroadcastJSON(s.buildUpdate(snapshot))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.buildUpdate(s.refresh.Snapshot()).Market)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(mux.Vars(r)["symbol"])
	quote, err := s.quotes.Get(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, market.ErrUnavailable) {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "quote unavailable for " + strings.ToUpper(symbol)})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(mux.Vars(r)["symbol"])
	period, ok := models.ParsePeriod(r.URL.Query().Get("period"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid period"})
		return
	}

	candles, err := s.history.FetchHistory(r.Context(), symbol, period)
	if err != nil {
		if errors.Is(err, market.ErrUnavailable) {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "history unavailable for " + strings.ToUpper(symbol)})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  strings.ToUpper(symbol),
		"period":  period,
		"candles": candles,
	})
}

func (s *Server) handleListWatchlist(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Watchlist())
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbol is required"})
		return
	}

	// Validate the symbol by fetching a quote before tracking it, so the
	// watchlist never accumulates unknown tickers.
	if _, err := s.quotes.Get(r.Context(), symbol); err != nil {
		if errors.Is(err, market.ErrUnavailable) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unknown symbol " + symbol})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	added := s.ledger.AddToWatchlist(symbol)
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"symbol": symbol, "added": added})
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	// Removal is idempotent; removing an absent symbol is still a 204.
	s.ledger.RemoveFromWatchlist(mux.Vars(r)["symbol"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListHoldings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Holdings())
}

func (s *Server) handleCreateHolding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol        string  `json:"symbol"`
		Shares        float64 `json:"shares"`
		PurchasePrice float64 `json:"purchasePrice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := s.ledger.AddHolding(req.Symbol, req.Shares, req.PurchasePrice)
	if err != nil {
		if errors.Is(err, portfolio.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Warm the quote so the next summary can price the new lot. Best
	// effort; the holding stands either way.
	if _, err := s.quotes.Get(r.Context(), created.Symbol); err != nil {
		s.log.Warn().Str("symbol", created.Symbol).Err(err).Msg("could not price new holding")
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Summary(s.refresh.Snapshot()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := s.refresh.RefreshTracked(r.Context())
	if !ok {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh already in flight"})
		return
	}
	s.BroadcastUpdate(snapshot)
	writeJSON(w, http.StatusOK, s.buildUpdate(snapshot))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.AddClient(conn)

	_ = conn.WriteJSON(s.buildUpdate(s.refresh.Snapshot()))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.RemoveClient(conn)
			return
		}
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
