package repository

import "errors"

var (
	// ErrPositionExists signals that an open position already exists for the
	// strategy symbol, whether seen by the in-transaction check or by the
	// partial unique index when two entries race.
	ErrPositionExists = errors.New("an open position already exists for this symbol")

	// ErrNoOpenPosition signals an exit (or a concurrent close) with no open
	// position left to act on.
	ErrNoOpenPosition = errors.New("no open position for this symbol")

	// ErrWalFinalized signals an attempt to finalize a WAL entry that is
	// already completed or failed.
	ErrWalFinalized = errors.New("wal entry already finalized")
)
