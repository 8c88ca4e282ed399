package migrations

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// backfillWebhookLogSymbols fills strategy_symbol on webhook logs recorded
// before the column existed, recovering the value from the stored payload.
// Raw table names are used on purpose: migrations must keep working after
// the models move on.
func backfillWebhookLogSymbols(db *gorm.DB) error {
	type row struct {
		ID      uint
		Payload string
	}

	var rows []row
	if err := db.Table("webhook_logs").
		Select("id", "payload").
		Where("(strategy_symbol IS NULL OR strategy_symbol = '') AND payload <> ''").
		Find(&rows).Error; err != nil {
		return fmt.Errorf("collect webhook logs without symbol: %w", err)
	}

	for _, r := range rows {
		var payload struct {
			Symbol string `json:"symbol"`
		}
		if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
			// unparseable legacy payloads keep their empty symbol
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(payload.Symbol))
		if symbol == "" {
			continue
		}
		if err := db.Table("webhook_logs").
			Where("id = ?", r.ID).
			Update("strategy_symbol", symbol).Error; err != nil {
			return fmt.Errorf("backfill webhook log %d: %w", r.ID, err)
		}
	}

	return nil
}
