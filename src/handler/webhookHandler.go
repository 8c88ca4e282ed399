package handler

import (
	"context"
	"io"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/ingest"
	"github.com/bostonrobbie/signalbridge/src/model"
	"github.com/bostonrobbie/signalbridge/src/repository"
)

type signalIngestor interface {
	Ingest(ctx context.Context, rawBody []byte) (*ingest.Outcome, error)
}

// TradingViewWebhookHandler returns the ingress handler for TradingView
// alerts. Every conclusive outcome, accepted or rejected, answers 200 so the
// sender does not resend a payload we already judged; only a store failure
// answers 500.
func TradingViewWebhookHandler(pipeline signalIngestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.WithError(err).Warn("failed to read webhook body")
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}

		outcome, err := pipeline.Ingest(r.Context(), body)
		if err != nil {
			logger.WithError(err).Error("webhook ingestion failed before a durable record existed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, outcome)
	}
}

type webhookLogSearcher interface {
	Search(ctx context.Context, options repository.WebhookLogSearchOptions) ([]model.WebhookLog, int64, error)
}

// SearchWebhookLogsHandler returns a handler that lists the webhook
// processing history, newest first. Supports pagination and filters
// (status, symbol).
func SearchWebhookLogsHandler(repo webhookLogSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize, ok := pageParams(w, r)
		if !ok {
			return
		}

		status := r.URL.Query().Get("status")
		switch status {
		case "", model.WebhookStatusProcessing, model.WebhookStatusSuccess,
			model.WebhookStatusFailed, model.WebhookStatusDuplicate:
		default:
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}

		logs, total, err := repo.Search(r.Context(), repository.WebhookLogSearchOptions{
			Status:   status,
			Symbol:   r.URL.Query().Get("symbol"),
			Page:     page,
			PageSize: pageSize,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search webhook logs")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, pagedResponse{Items: logs, Total: total, Page: page, PageSize: pageSize})
	}
}
