package model

import "time"

// Tick is a single LTP update from the Angel One SmartStream feed.
// Price is stored as int64 in paise (1 INR = 100 paise) to avoid float drift.
type Tick struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	Price    int64     `json:"price"`   // paise (LTP)
	TickTS   time.Time `json:"tick_ts"` // exchange timestamp, UTC
}

// Rupees returns the tick price in rupees.
func (t Tick) Rupees() float64 {
	return float64(t.Price) / 100.0
}
