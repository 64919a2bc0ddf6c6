package model

import "time"

// Side is the transaction type of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderOutcome is the terminal result of dispatching one order for one account.
type OrderOutcome struct {
	Account   string        `json:"account"`
	Key       InstrumentKey `json:"key"`
	Symbol    string        `json:"symbol"`
	Token     string        `json:"token"`
	Side      Side          `json:"side"`
	Quantity  int           `json:"quantity"`
	Success   bool          `json:"success"`
	OrderID   string        `json:"order_id,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"` // network, auth, data, rejected, malformed
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	ReAuths   int           `json:"reauths"`
	TraceID   string        `json:"trace_id,omitempty"`
	At        time.Time     `json:"at"`
}
