package broker

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"optbot/internal/model"
)

var ident = model.InstrumentIdentity{Token: "43120", TradingSymbol: "NIFTY20MAY2524550CE", LotSize: 75}

func TestBuildOrder_Market(t *testing.T) {
	p, err := BuildOrder(ident, model.Buy, 150, OrderSpec{Style: StyleMarket}, decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	if p.Variety != "NORMAL" || p.OrderType != "MARKET" || p.ProductType != "INTRADAY" || p.Duration != "DAY" {
		t.Errorf("unexpected market params %+v", p)
	}
	if p.Exchange != "NFO" || p.TransactionType != "BUY" || p.Quantity != "150" || p.Price != "0" {
		t.Errorf("unexpected market params %+v", p)
	}
	if p.SquareOff != "0" || p.StopLoss != "0" || p.TrailingStopLoss != "" {
		t.Errorf("market order must not carry bracket legs: %+v", p)
	}
}

func TestBuildOrder_Bracket(t *testing.T) {
	spec := OrderSpec{Style: StyleBracket, Bracket: DefaultBracket()}
	p, err := BuildOrder(ident, model.Buy, 75, spec, decimal.RequireFromString("182.33"))
	if err != nil {
		t.Fatal(err)
	}
	// 182.33 - 1 = 181.33 → nearest tick 181.35
	if p.Variety != "ROBO" || p.OrderType != "LIMIT" || p.Price != "181.35" {
		t.Errorf("entry: %+v", p)
	}
	if p.SquareOff != "40.00" || p.StopLoss != "12.00" || p.TrailingStopLoss != "20.00" {
		t.Errorf("legs: %+v", p)
	}
}

func TestBuildOrder_BracketSellEntersAbove(t *testing.T) {
	spec := OrderSpec{Style: StyleBracket, Bracket: DefaultBracket()}
	p, err := BuildOrder(ident, model.Sell, 75, spec, decimal.RequireFromString("100"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Price != "101.00" || p.TransactionType != "SELL" {
		t.Errorf("sell entry: %+v", p)
	}
}

func TestBuildOrder_Errors(t *testing.T) {
	spec := OrderSpec{Style: StyleBracket, Bracket: DefaultBracket()}
	if _, err := BuildOrder(ident, model.Buy, 75, spec, decimal.Zero); !errors.Is(err, ErrData) {
		t.Errorf("missing reference: got %v", err)
	}
	if _, err := BuildOrder(ident, model.Buy, 75, spec, decimal.RequireFromString("0.5")); !errors.Is(err, ErrData) {
		t.Errorf("non-positive entry: got %v", err)
	}
	if _, err := BuildOrder(ident, model.Buy, 0, OrderSpec{Style: StyleMarket}, decimal.Zero); !errors.Is(err, ErrData) {
		t.Errorf("zero quantity: got %v", err)
	}
}

func TestRoundToTick(t *testing.T) {
	cases := map[string]string{
		"100.02": "100",
		"100.03": "100.05",
		"99.975": "100",
		"12.12":  "12.1",
	}
	for in, want := range cases {
		got := RoundToTick(decimal.RequireFromString(in))
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Errorf("RoundToTick(%s) = %s, want %s", in, got, want)
		}
	}
}
