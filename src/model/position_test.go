package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRealizedPnl(t *testing.T) {
	tests := []struct {
		name      string
		direction string
		entry     float64
		exit      float64
		qty       float64
		want      float64
	}{
		{name: "long win", direction: DirectionLong, entry: 4500, exit: 4550, qty: 1, want: 50},
		{name: "short loss same prices", direction: DirectionShort, entry: 4500, exit: 4550, qty: 1, want: -50},
		{name: "short win", direction: DirectionShort, entry: 4500, exit: 4400, qty: 1, want: 100},
		{name: "long loss", direction: DirectionLong, entry: 4500, exit: 4400, qty: 1, want: -100},
		{name: "quantity scales", direction: DirectionLong, entry: 4500, exit: 4550, qty: 3, want: 150},
		{name: "fractional prices stay exact", direction: DirectionLong, entry: 4500.25, exit: 4501.75, qty: 2, want: 3},
		{name: "flat exit", direction: DirectionShort, entry: 4500, exit: 4500, qty: 5, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &OpenPosition{
				Direction:  tt.direction,
				EntryPrice: tt.entry,
				Quantity:   tt.qty,
			}
			assert.Equal(t, tt.want, p.RealizedPnl(tt.exit))
		})
	}
}

func TestRealizedPnlPercent(t *testing.T) {
	long := &OpenPosition{Direction: DirectionLong, EntryPrice: 4000, Quantity: 1}
	assert.Equal(t, 2.5, long.RealizedPnlPercent(4100))

	short := &OpenPosition{Direction: DirectionShort, EntryPrice: 4000, Quantity: 1}
	assert.Equal(t, -2.5, short.RealizedPnlPercent(4100))

	zeroEntry := &OpenPosition{Direction: DirectionLong, EntryPrice: 0, Quantity: 1}
	assert.Equal(t, 0.0, zeroEntry.RealizedPnlPercent(4100))
}
