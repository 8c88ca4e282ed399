package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertUnmarshalQuotedNumbersAndTimenow(t *testing.T) {
	raw := `{
		"symbol": "ES",
		"timenow": "2025-06-02T14:30:00Z",
		"data": "buy",
		"quantity": "2",
		"price": "4500.50",
		"token": "secret"
	}`

	var a Alert
	require.NoError(t, json.Unmarshal([]byte(raw), &a))

	assert.Equal(t, "ES", a.Symbol)
	assert.Equal(t, "buy", a.ActionValue())
	assert.False(t, a.IsExit())
	assert.Equal(t, DirectionLong, a.ResolvedDirection())
	assert.Equal(t, 2.0, a.Quantity.Value)
	assert.Equal(t, 4500.50, a.Price.Value)
	assert.Equal(t, time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC), a.Timestamp())
}

func TestAlertUnmarshalUnixMillisAndExplicitFields(t *testing.T) {
	raw := `{
		"symbol": "NQ",
		"date": 1748874600000,
		"action": "exit",
		"direction": "short",
		"quantity": 1,
		"price": 21010,
		"entryPrice": 21000,
		"exitPrice": 20950,
		"pnl": "123.45",
		"token": "secret"
	}`

	var a Alert
	require.NoError(t, json.Unmarshal([]byte(raw), &a))

	assert.True(t, a.IsExit())
	assert.Equal(t, DirectionShort, a.ResolvedDirection())
	assert.Equal(t, 21000.0, a.EffectiveEntryPrice())
	assert.Equal(t, 20950.0, a.EffectiveExitPrice())
	require.NotNil(t, a.Pnl)
	assert.Equal(t, 123.45, a.Pnl.Value)
	assert.Equal(t, int64(1748874600), a.Timestamp().Unix())
}

func TestAlertDirectionDerivedFromSell(t *testing.T) {
	var a Alert
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"ES","action":"sell","quantity":1,"price":10,"token":"x"}`), &a))
	assert.Equal(t, DirectionShort, a.ResolvedDirection())
}

func TestAlertExplicitDirectionWinsOverAction(t *testing.T) {
	var a Alert
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"ES","action":"buy","direction":"Short","quantity":1,"price":10,"token":"x"}`), &a))
	assert.Equal(t, DirectionShort, a.ResolvedDirection())
}

func TestAlertEffectivePricesFallBackToPrice(t *testing.T) {
	var a Alert
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"ES","action":"exit","quantity":1,"price":4400,"token":"x"}`), &a))
	assert.Equal(t, 4400.0, a.EffectiveEntryPrice())
	assert.Equal(t, 4400.0, a.EffectiveExitPrice())
}

func TestFlexTimeRejectsGarbage(t *testing.T) {
	var ft FlexTime
	err := ft.UnmarshalJSON([]byte(`"not-a-time"`))
	assert.Error(t, err)
}

func TestFlexTimeUnixSeconds(t *testing.T) {
	var ft FlexTime
	require.NoError(t, ft.UnmarshalJSON([]byte(`"1748874600"`)))
	assert.Equal(t, int64(1748874600), ft.Unix())
}

func TestFlexFloatRejectsNonNumeric(t *testing.T) {
	var ff FlexFloat
	assert.Error(t, ff.UnmarshalJSON([]byte(`"abc"`)))
}

func TestAlertCloseCountsAsExit(t *testing.T) {
	a := Alert{Data: "Close"}
	assert.True(t, a.IsExit())
}

func TestAlertNoTimestamp(t *testing.T) {
	var a Alert
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"ES","action":"buy","quantity":1,"price":10,"token":"x"}`), &a))
	assert.True(t, a.Timestamp().IsZero())
}
