package handler

import (
	"context"
	"net/http"
	"strconv"

	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/model"
)

type executionFinder interface {
	FindLatest(ctx context.Context, limit int) ([]model.ExecutionRecord, error)
}

// RecentExecutionsHandler returns a handler that lists the latest order
// execution attempts, newest first. `limit` defaults to 20.
func RecentExecutionsHandler(repo executionFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsedLimit, err := strconv.Atoi(limitParam)
			if err != nil || parsedLimit <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsedLimit
		}

		records, err := repo.FindLatest(r.Context(), limit)
		if err != nil {
			logger.WithError(err).Error("failed to list execution records")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []model.ExecutionRecord{}
		}

		writeJSON(w, records)
	}
}
