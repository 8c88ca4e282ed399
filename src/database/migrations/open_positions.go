package migrations

import "gorm.io/gorm"

// createOpenPositionUniqueIndex enforces the single-open-position rule in
// the store itself: at most one row per strategy_symbol may hold status
// 'open'. AutoMigrate cannot express partial indexes, so it runs here. The
// statement parses in both Postgres and SQLite, which keeps the test schema
// identical to production.
func createOpenPositionUniqueIndex(db *gorm.DB) error {
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_open_position_symbol
		 ON open_positions (strategy_symbol) WHERE status = 'open'`,
	).Error
}
