package model

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Alert is the TradingView webhook payload. Senders are not consistent:
// some emit "data", some "action"; timestamps arrive under "date" or
// "timenow"; numbers may be quoted. The flexible scalar types below absorb
// those quirks so the pipeline only sees normalized values.
type Alert struct {
	Symbol     string     `json:"symbol"`
	Strategy   string     `json:"strategy,omitempty"`
	Date       *FlexTime  `json:"date,omitempty"`
	TimeNow    *FlexTime  `json:"timenow,omitempty"`
	Data       string     `json:"data,omitempty"`
	Action     string     `json:"action,omitempty"`
	Direction  string     `json:"direction,omitempty"`
	Quantity   FlexFloat  `json:"quantity"`
	Price      FlexFloat  `json:"price"`
	EntryPrice *FlexFloat `json:"entryPrice,omitempty"`
	ExitPrice  *FlexFloat `json:"exitPrice,omitempty"`
	Pnl        *FlexFloat `json:"pnl,omitempty"`
	Token      string     `json:"token"`
}

// ActionValue returns the lowercased action, preferring "action" over the
// older "data" key.
func (a *Alert) ActionValue() string {
	if a.Action != "" {
		return strings.ToLower(strings.TrimSpace(a.Action))
	}
	return strings.ToLower(strings.TrimSpace(a.Data))
}

func (a *Alert) IsExit() bool {
	v := a.ActionValue()
	return v == "exit" || v == "close"
}

// Timestamp returns the signal time, preferring "date" over "timenow".
// Zero when neither was sent.
func (a *Alert) Timestamp() time.Time {
	if a.Date != nil && !a.Date.IsZero() {
		return a.Date.Time
	}
	if a.TimeNow != nil && !a.TimeNow.IsZero() {
		return a.TimeNow.Time
	}
	return time.Time{}
}

// ResolvedDirection normalizes the explicit direction field when present
// and otherwise derives it from the action (buy opens Long, sell opens
// Short). Empty when neither yields one.
func (a *Alert) ResolvedDirection() string {
	switch {
	case strings.EqualFold(a.Direction, DirectionLong):
		return DirectionLong
	case strings.EqualFold(a.Direction, DirectionShort):
		return DirectionShort
	}
	switch a.ActionValue() {
	case "buy":
		return DirectionLong
	case "sell":
		return DirectionShort
	}
	return ""
}

// EffectiveEntryPrice prefers the explicit entryPrice field over price.
func (a *Alert) EffectiveEntryPrice() float64 {
	if a.EntryPrice != nil && a.EntryPrice.Value != 0 {
		return a.EntryPrice.Value
	}
	return a.Price.Value
}

// EffectiveExitPrice prefers the explicit exitPrice field over price.
func (a *Alert) EffectiveExitPrice() float64 {
	if a.ExitPrice != nil && a.ExitPrice.Value != 0 {
		return a.ExitPrice.Value
	}
	return a.Price.Value
}

// FlexFloat accepts a JSON number or a quoted numeric string.
type FlexFloat struct {
	Value float64
}

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" || s == `""` {
		f.Value = 0
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("FlexFloat: parse %q: %w", s, err)
	}
	f.Value = v
	return nil
}

func (f FlexFloat) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(f.Value, 'f', -1, 64)), nil
}

// FlexTime handles the timestamp shapes TradingView emits:
// - "2025-12-08T16:00:00.000Z"
// - "2025-11-30T00:00:00Z"
// - "2025-11-30 00:00:00"
// - unix seconds or milliseconds, quoted or not
type FlexTime struct {
	time.Time
}

func (t *FlexTime) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		t.Time = time.Time{}
		return nil
	}

	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Millisecond stamps are 13 digits for contemporary dates.
		if n > 1e12 {
			t.Time = time.UnixMilli(n).UTC()
		} else {
			t.Time = time.Unix(n, 0).UTC()
		}
		return nil
	}

	layouts := []string{
		"2006-01-02T15:04:05.000Z",
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	var lastErr error
	for _, layout := range layouts {
		tt, e := time.Parse(layout, s)
		if e == nil {
			t.Time = tt
			return nil
		}
		lastErr = e
	}
	return fmt.Errorf("FlexTime: parse %q: %w", s, lastErr)
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339))), nil
}
