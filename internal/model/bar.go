package model

import (
	"encoding/json"
	"time"
)

// Bar is a one-minute OHLC bar of the underlying index.
// Prices are in rupees; the broker's candle endpoint reports them as floats.
type Bar struct {
	TS     time.Time `json:"ts"` // bar start time
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}
