package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/bostonrobbie/signalbridge/src/model"
)

type strategyLister interface {
	List(ctx context.Context) ([]model.Strategy, error)
}

// ListStrategiesHandler returns a handler that lists every registered
// strategy with its execution opt-in state.
func ListStrategiesHandler(repo strategyLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		strategies, err := repo.List(r.Context())
		if err != nil {
			logger.WithError(err).Error("failed to list strategies")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if strategies == nil {
			strategies = []model.Strategy{}
		}

		writeJSON(w, strategies)
	}
}

type autoTradeToggler interface {
	SetAutoTrade(ctx context.Context, id uint, enabled bool) error
	FindByID(ctx context.Context, id uint) (*model.Strategy, error)
}

// SetAutoTradeHandler returns a handler that flips a strategy's auto-trade
// opt-in and echoes the updated strategy.
func SetAutoTradeHandler(repo autoTradeToggler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "strategyId"), 10, 32)
		if err != nil || id == 0 {
			http.Error(w, "invalid strategy id", http.StatusBadRequest)
			return
		}

		var payload model.AutoTradePayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil || payload.Enabled == nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		if err := repo.SetAutoTrade(r.Context(), uint(id), *payload.Enabled); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				http.Error(w, "strategy not found", http.StatusNotFound)
				return
			}
			logger.WithError(err).WithField("strategy_id", id).Error("failed to set auto trade")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		strategy, err := repo.FindByID(r.Context(), uint(id))
		if err != nil || strategy == nil {
			logger.WithError(err).WithField("strategy_id", id).Error("failed to reload strategy after toggle")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.WithFields(map[string]interface{}{
			"strategy_id": strategy.ID,
			"symbol":      strategy.Symbol,
			"auto_trade":  strategy.AutoTrade,
		}).Info("strategy auto trade updated")

		writeJSON(w, strategy)
	}
}
