package model

import (
	"fmt"
	"strconv"
)

// Right is the option right of a contract.
type Right string

const (
	Call Right = "CE"
	Put  Right = "PE"
)

// InstrumentKey identifies one option contract of the traded underlying.
type InstrumentKey struct {
	Underlying string `json:"underlying"` // e.g. NIFTY
	Expiry     string `json:"expiry"`     // e.g. 20MAY25
	Strike     int    `json:"strike"`     // rupees
	Right      Right  `json:"right"`
}

// String returns the cache key form: "NIFTY 20MAY25 24550 CE".
func (k InstrumentKey) String() string {
	return fmt.Sprintf("%s %s %d %s", k.Underlying, k.Expiry, k.Strike, k.Right)
}

// Symbol returns the canonical trading symbol: "NIFTY20MAY2524550CE".
func (k InstrumentKey) Symbol() string {
	return k.Underlying + k.Expiry + strconv.Itoa(k.Strike) + string(k.Right)
}

// InstrumentIdentity is what the broker needs to place an order on a contract.
type InstrumentIdentity struct {
	Token         string `json:"token"`
	TradingSymbol string `json:"trading_symbol"`
	LotSize       int    `json:"lot_size"`
}
