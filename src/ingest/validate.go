package ingest

import (
	"fmt"
	"strings"

	"github.com/bostonrobbie/signalbridge/src/model"
)

// ValidateAlert checks that a parsed alert carries everything the ledger
// needs. Token and freshness are authorization concerns and are checked
// separately.
func ValidateAlert(alert *model.Alert) error {
	if strings.TrimSpace(alert.Symbol) == "" {
		return fmt.Errorf("missing symbol")
	}

	action := alert.ActionValue()
	switch action {
	case "buy", "sell", "exit", "close":
	case "":
		return fmt.Errorf("missing action")
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if alert.Timestamp().IsZero() {
		return fmt.Errorf("missing timestamp")
	}

	if alert.IsExit() {
		if alert.EffectiveExitPrice() <= 0 {
			return fmt.Errorf("exit price must be positive")
		}
		return nil
	}

	if alert.ResolvedDirection() == "" {
		return fmt.Errorf("cannot resolve direction")
	}
	if alert.Quantity.Value <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if alert.EffectiveEntryPrice() <= 0 {
		return fmt.Errorf("entry price must be positive")
	}

	return nil
}
