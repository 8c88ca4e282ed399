package handler

import (
	"context"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/model"
	"github.com/bostonrobbie/signalbridge/src/repository"
)

type openPositionLister interface {
	FindAllOpen(ctx context.Context) ([]model.OpenPosition, error)
}

// OpenPositionsHandler returns a handler that lists every open position,
// oldest entry first. The open set is bounded by the one-per-symbol rule, so
// there is no pagination.
func OpenPositionsHandler(repo openPositionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		positions, err := repo.FindAllOpen(r.Context())
		if err != nil {
			logger.WithError(err).Error("failed to list open positions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if positions == nil {
			positions = []model.OpenPosition{}
		}

		writeJSON(w, positions)
	}
}

type tradeSearcher interface {
	Search(ctx context.Context, options repository.TradeSearchOptions) ([]model.Trade, int64, error)
}

// SearchTradesHandler returns a handler that lists realized trades, newest
// exit first. Supports pagination and a symbol filter.
func SearchTradesHandler(repo tradeSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize, ok := pageParams(w, r)
		if !ok {
			return
		}

		trades, total, err := repo.Search(r.Context(), repository.TradeSearchOptions{
			Symbol:   r.URL.Query().Get("symbol"),
			Page:     page,
			PageSize: pageSize,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search trades")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, pagedResponse{Items: trades, Total: total, Page: page, PageSize: pageSize})
	}
}
