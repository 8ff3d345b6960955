package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/talos/internal/coordinator"
	"github.com/wonny/talos/internal/signal"
	"github.com/wonny/talos/pkg/logger"
)

// BotHandler handles bot control API endpoints
// ⭐ SSOT: 봇 제어 API 핸들러는 이 구조체에서만
type BotHandler struct {
	coordinator *coordinator.Coordinator
	logger      *logger.Logger
}

// NewBotHandler creates a new bot handler
func NewBotHandler(coord *coordinator.Coordinator, log *logger.Logger) *BotHandler {
	return &BotHandler{
		coordinator: coord,
		logger:      log,
	}
}

// GetStatus returns the current risk metrics
// GET /api/bot/status
func (h *BotHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.coordinator.Status())
}

// GetBalance returns the available USDT balance
// GET /api/bot/balance
func (h *BotHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	balance, err := h.coordinator.Balance(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get balance")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve balance")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"coin":    "USDT",
		"balance": balance,
	})
}

// GetPositions returns all open positions with engine state
// GET /api/bot/positions
func (h *BotHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	positions, err := h.coordinator.Positions(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get positions")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve positions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(positions),
		"positions": positions,
	})
}

// SignalRequest represents an inbound trade signal
type SignalRequest struct {
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"` // "BUY", "SELL", "LONG", "SHORT"
	Entries  []float64 `json:"entries"`
	StopLoss float64   `json:"stop_loss,omitempty"`
	Targets  []float64 `json:"targets,omitempty"`
	Leverage int       `json:"leverage,omitempty"`
}

// Signal submits a trade signal for execution
// POST /api/bot/signal
func (h *BotHandler) Signal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	side, err := signal.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sig := &signal.Signal{
		Symbol:   req.Symbol,
		Side:     side,
		Entries:  req.Entries,
		StopLoss: req.StopLoss,
		Targets:  req.Targets,
		Leverage: req.Leverage,
	}

	if err := h.coordinator.HandleSignal(ctx, sig); err != nil {
		h.logger.WithError(err).WithField("symbol", req.Symbol).Error("Signal execution failed")
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "executed",
		"symbol": sig.Symbol,
	})
}

// UpdateRequest represents a position update
type UpdateRequest struct {
	StopLoss float64   `json:"stop_loss,omitempty"`
	Targets  []float64 `json:"targets,omitempty"`
}

// UpdatePosition adjusts the stop loss or targets for an open position
// PUT /api/bot/positions/{symbol}
func (h *BotHandler) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	symbol := mux.Vars(r)["symbol"]

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.coordinator.UpdatePosition(ctx, symbol, req.StopLoss, req.Targets); err != nil {
		h.logger.WithError(err).WithField("symbol", symbol).Error("Position update failed")
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "updated",
		"symbol": symbol,
	})
}

// ClosePosition closes an open position at market
// POST /api/bot/close/{symbol}
func (h *BotHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	symbol := mux.Vars(r)["symbol"]

	if err := h.coordinator.ClosePosition(ctx, symbol); err != nil {
		h.logger.WithError(err).WithField("symbol", symbol).Error("Failed to close position")
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "closed",
		"symbol": symbol,
	})
}

// Stop halts the reconciliation and trailing monitors
// POST /api/bot/stop
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("🛑 Stop requested via API")
	h.coordinator.Stop()

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "stopped",
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
