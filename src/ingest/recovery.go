package ingest

import (
	"context"
	"encoding/json"
	"errors"

	logger "github.com/sirupsen/logrus"

	"github.com/bostonrobbie/signalbridge/src/model"
	"github.com/bostonrobbie/signalbridge/src/repository"
)

// RecoveryReport summarizes one WAL recovery sweep.
type RecoveryReport struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Errors    int `json:"errors"`
}

// Recover replays WAL entries left pending or processing by a crash. The
// raw payload already passed authorization when it was logged, so replay
// skips token and freshness checks. Replayed entries never dispatch to the
// auto trader: by the time recovery runs they are too old to execute.
func (p *Pipeline) Recover(ctx context.Context) (*RecoveryReport, error) {
	cutoff := p.now().Add(-p.config.RecoveryGrace)

	entries, err := p.wal.FindUnfinished(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	report := &RecoveryReport{Scanned: len(entries)}
	if len(entries) == 0 {
		logger.Info("WAL recovery: nothing to replay")
		return report, nil
	}

	logger.WithField("entries", len(entries)).Warn("WAL recovery: replaying unfinished entries")

	for i := range entries {
		entry := &entries[i]

		log := logger.WithFields(map[string]interface{}{
			"wal_id":         entry.ID,
			"correlation_id": entry.CorrelationID,
		})

		var alert model.Alert
		if err := json.Unmarshal([]byte(entry.RawPayload), &alert); err != nil {
			log.WithError(err).Error("WAL recovery: stored payload unparseable, failing entry")
			if e := p.wal.Fail(ctx, entry.ID, model.ReasonInvalidPayload, nil); e != nil && !errors.Is(e, repository.ErrWalFinalized) {
				report.Errors++
				continue
			}
			report.Failed++
			continue
		}
		if err := ValidateAlert(&alert); err != nil {
			log.WithError(err).Error("WAL recovery: stored payload invalid, failing entry")
			if e := p.wal.Fail(ctx, entry.ID, model.ReasonInvalidPayload, nil); e != nil && !errors.Is(e, repository.ErrWalFinalized) {
				report.Errors++
				continue
			}
			report.Failed++
			continue
		}

		if err := p.wal.MarkProcessing(ctx, entry.ID); err != nil {
			if errors.Is(err, repository.ErrWalFinalized) {
				// Finalized between the scan and now; nothing to do.
				continue
			}
			log.WithError(err).Error("WAL recovery: failed to re-enter entry")
			report.Errors++
			continue
		}

		outcome, err := p.apply(ctx, entry, &alert, p.now(), false)
		if err != nil {
			p.exceptions.Capture(ctx, "ingest", "Recover", "error", err, map[string]interface{}{
				"wal_id":         entry.ID,
				"correlation_id": entry.CorrelationID,
			})
			report.Errors++
			continue
		}

		if outcome.Accepted {
			log.Info("WAL recovery: entry replayed to completion")
			report.Completed++
		} else {
			log.WithField("reason", outcome.Reason).Info("WAL recovery: entry finalized as failed")
			report.Failed++
		}
	}

	logger.WithFields(map[string]interface{}{
		"scanned":   report.Scanned,
		"completed": report.Completed,
		"failed":    report.Failed,
		"errors":    report.Errors,
	}).Info("WAL recovery finished")

	return report, nil
}
