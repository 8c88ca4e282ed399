package handler

import (
	"context"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/integrity"
	"github.com/bostonrobbie/signalbridge/src/monitor"
)

type brokerHealthReporter interface {
	Report() *monitor.Report
}

// BrokerHealthHandler returns a handler that serves the monitor's current
// view of every broker connection, with alerts and recommendations.
func BrokerHealthHandler(mon brokerHealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, mon.Report())
	}
}

type ledgerVerifier interface {
	Validate(ctx context.Context) (*integrity.Report, error)
}

// IntegrityHandler returns a handler that runs the read-only ledger checks
// on demand and serves the violation report.
func IntegrityHandler(validator ledgerVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := validator.Validate(r.Context())
		if err != nil {
			logger.WithError(err).Error("integrity validation failed")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, report)
	}
}
