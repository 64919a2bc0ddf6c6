package broker

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"optbot/internal/model"
	"optbot/pkg/smartconnect"
)

// Style selects the order variety.
type Style string

const (
	StyleMarket  Style = "market"
	StyleBracket Style = "bracket"
)

// Bracket configures the ROBO order variant. Offsets are in rupees; target
// and stop are distances from the entry price, as the broker expects.
type Bracket struct {
	EntryOffset  decimal.Decimal // entry limit = reference price - offset (BUY)
	TargetOffset decimal.Decimal // squareoff
	StopOffset   decimal.Decimal // stoploss
	Trail        decimal.Decimal // trailingstoploss, zero disables
}

// DefaultBracket mirrors the desk's standing bracket: enter one rupee
// inside, book at +40, stop at -12, trail by 20.
func DefaultBracket() Bracket {
	return Bracket{
		EntryOffset:  decimal.NewFromInt(1),
		TargetOffset: decimal.NewFromInt(40),
		StopOffset:   decimal.NewFromInt(12),
		Trail:        decimal.NewFromInt(20),
	}
}

// OrderSpec is the configured order style.
type OrderSpec struct {
	Style   Style
	Bracket Bracket
}

// NeedsReference reports whether building the order needs a reference price.
func (s OrderSpec) NeedsReference() bool { return s.Style == StyleBracket }

var tick = decimal.RequireFromString("0.05")

// RoundToTick rounds a price to the nearest 0.05 tick.
func RoundToTick(p decimal.Decimal) decimal.Decimal {
	return p.Div(tick).Round(0).Mul(tick)
}

// BuildOrder assembles the placeOrder payload for one account.
// Market orders are intraday, day-duration, price "0". Bracket orders are
// ROBO limit orders priced off ref.
func BuildOrder(id model.InstrumentIdentity, side model.Side, qty int, spec OrderSpec, ref decimal.Decimal) (smartconnect.OrderParams, error) {
	if qty <= 0 {
		return smartconnect.OrderParams{}, NewOrderError(KindData, "", fmt.Sprintf("quantity %d for %s", qty, id.TradingSymbol), nil)
	}
	p := smartconnect.OrderParams{
		Variety:         "NORMAL",
		TradingSymbol:   id.TradingSymbol,
		SymbolToken:     id.Token,
		TransactionType: string(side),
		Exchange:        "NFO",
		OrderType:       "MARKET",
		ProductType:     "INTRADAY",
		Duration:        "DAY",
		Quantity:        strconv.Itoa(qty),
		Price:           "0",
		SquareOff:       "0",
		StopLoss:        "0",
	}
	if spec.Style != StyleBracket {
		return p, nil
	}

	if !ref.IsPositive() {
		return smartconnect.OrderParams{}, NewOrderError(KindData, "", "no reference price for bracket order on "+id.TradingSymbol, nil)
	}
	b := spec.Bracket
	entry := ref.Sub(b.EntryOffset)
	if side == model.Sell {
		entry = ref.Add(b.EntryOffset)
	}
	entry = RoundToTick(entry)
	if !entry.IsPositive() {
		return smartconnect.OrderParams{}, NewOrderError(KindData, "", "bracket entry price not positive for "+id.TradingSymbol, nil)
	}

	p.Variety = "ROBO"
	p.OrderType = "LIMIT"
	p.Price = entry.StringFixed(2)
	p.SquareOff = RoundToTick(b.TargetOffset).StringFixed(2)
	p.StopLoss = RoundToTick(b.StopOffset).StringFixed(2)
	if b.Trail.IsPositive() {
		p.TrailingStopLoss = RoundToTick(b.Trail).StringFixed(2)
	}
	return p, nil
}
