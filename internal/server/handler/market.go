package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/predmarket/internal/amm"
	"github.com/alanyoungcy/predmarket/internal/crypto"
	"github.com/alanyoungcy/predmarket/internal/domain"
	"github.com/alanyoungcy/predmarket/internal/market"
)

// MarketService is the part of the service layer the market endpoints use.
type MarketService interface {
	CreateMarket(ctx context.Context, caller domain.Identity, params market.CreateParams) (domain.Market, error)
	PlacePrediction(ctx context.Context, caller domain.Identity, id domain.MarketID, side domain.Side, amount uint64) (market.Deposit, error)
	ResolveMarket(ctx context.Context, caller domain.Identity, id domain.MarketID, outcome domain.Side) (domain.Market, error)
	ClaimReward(ctx context.Context, caller domain.Identity, id domain.MarketID) (domain.Position, uint64, error)
	WithdrawFees(ctx context.Context, caller domain.Identity, id domain.MarketID, amount uint64) (domain.Market, error)
	GetMarket(ctx context.Context, id domain.MarketID) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	ListPositions(ctx context.Context, id domain.MarketID, opts domain.ListOpts) ([]domain.Position, error)
	GetPosition(ctx context.Context, id domain.MarketID, predictor domain.Identity) (domain.Position, error)
	Quote(ctx context.Context, id domain.MarketID, side domain.Side, amount uint64) (amm.Quote, error)
}

// MarketHandler serves the market endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger.With(slog.String("handler", "market"))}
}

// marketView adds the derived lifecycle status to a market.
type marketView struct {
	domain.Market
	Status domain.MarketStatus `json:"status"`
}

func viewOf(m domain.Market) marketView {
	return marketView{Market: m, Status: m.Status()}
}

type createMarketRequest struct {
	MarketID         domain.MarketID `json:"market_id"`
	Question         string          `json:"question"`
	ResolutionTime   time.Time       `json:"resolution_time"`
	InitialLiquidity uint64          `json:"initial_liquidity"`
}

// CreateMarket opens a market owned by the caller.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), who, market.CreateParams{
		ID:               req.MarketID,
		Question:         req.Question,
		ResolutionTime:   req.ResolutionTime,
		InitialLiquidity: req.InitialLiquidity,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(m))
}

type predictionRequest struct {
	Side   string `json:"side"`
	Amount uint64 `json:"amount"`
}

type predictionResponse struct {
	Market   marketView      `json:"market"`
	Position domain.Position `json:"position"`
	Fee      uint64          `json:"fee"`
	Net      uint64          `json:"net"`
}

// PlacePrediction deposits collateral on one side of a market.
// POST /api/markets/{id}/predictions
func (h *MarketHandler) PlacePrediction(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req predictionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidSide", "side must be YES or NO")
		return
	}

	dep, err := h.markets.PlacePrediction(r.Context(), who, id, side, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, predictionResponse{
		Market:   viewOf(dep.Market),
		Position: dep.Position,
		Fee:      dep.Fee,
		Net:      dep.Net,
	})
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// ResolveMarket records the winning side.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	outcome, err := domain.ParseSide(req.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, domain.ErrInvalidOutcome)
		return
	}

	m, err := h.markets.ResolveMarket(r.Context(), who, id, outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(m))
}

type claimResponse struct {
	Position domain.Position `json:"position"`
	Reward   uint64          `json:"reward"`
}

// ClaimReward pays out the caller's winning position.
// POST /api/markets/{id}/claim
func (h *MarketHandler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}

	p, reward, err := h.markets.ClaimReward(r.Context(), who, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{Position: p, Reward: reward})
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

// WithdrawFees pays accrued fees to the market creator.
// POST /api/markets/{id}/fees/withdraw
func (h *MarketHandler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	m, err := h.markets.WithdrawFees(r.Context(), who, id, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(m))
}

type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns markets newest first.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	views := make([]marketView, len(markets))
	for i, m := range markets {
		views[i] = viewOf(m)
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: views, Limit: opts.Limit, Offset: opts.Offset})
}

// GetMarket returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(m))
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// ListPositions returns a market's positions in deposit order.
// GET /api/markets/{id}/positions
func (h *MarketHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	opts := parseListOpts(r)
	positions, err := h.markets.ListPositions(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions, Limit: opts.Limit, Offset: opts.Offset})
}

// GetPosition returns one predictor's position.
// GET /api/markets/{id}/positions/{predictor}
func (h *MarketHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	p, err := h.markets.GetPosition(r.Context(), id, crypto.NormalizeIdentity(pathParam(r, "predictor")))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Quote prices a deposit without placing it.
// GET /api/markets/{id}/quote?side=YES&amount=100
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	side, err := domain.ParseSide(q.Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidSide", "side must be YES or NO")
		return
	}
	amount, err := strconv.ParseUint(q.Get("amount"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidAmount", "amount must be an unsigned integer")
		return
	}

	quote, err := h.markets.Quote(r.Context(), id, side, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}
