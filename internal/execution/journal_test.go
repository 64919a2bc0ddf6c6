package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"optbot/internal/model"
)

func TestJournal_RecordsSuccessAndFailure(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	ctx := context.Background()
	at := time.Date(2025, 5, 20, 10, 31, 0, 0, time.UTC)

	ok := model.OrderOutcome{
		Account: "alice", Key: ceKey, Symbol: ceIdent.TradingSymbol, Token: ceIdent.Token,
		Side: model.Buy, Quantity: 75, Success: true, OrderID: "250520000123459",
		Attempts: 3, ReAuths: 1, TraceID: "t-1", At: at,
	}
	bad := model.OrderOutcome{
		Account: "bob", Key: ceKey, Side: model.Buy, ErrorKind: "auth",
		Error: "auth: login: refused", Attempts: 0, TraceID: "t-1", At: at,
	}
	for _, o := range []model.OrderOutcome{ok, bad} {
		if err := j.RecordOutcome(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Account != "bob" || rows[0].Success || rows[0].ErrorKind != "auth" {
		t.Errorf("newest row = %+v", rows[0])
	}
	r := rows[1]
	if r.Account != "alice" || !r.Success || r.OrderID != "250520000123459" ||
		r.Instrument != "NIFTY 20MAY25 24550 CE" || r.Attempts != 3 || r.ReAuths != 1 || r.TraceID != "t-1" {
		t.Errorf("alice row = %+v", r)
	}
}

func TestPaperPlacer_AcceptsThroughNormalPath(t *testing.T) {
	p := NewPaperPlacer()
	d, _ := newTestDispatcher(DefaultDispatcherConfig(), p, &countingReauth{}, nil)

	first := d.Submit(context.Background(), alice, staleS, ceKey, ceIdent, model.Buy, 1)
	second := d.Submit(context.Background(), alice, staleS, ceKey, ceIdent, model.Buy, 1)
	if !first.Success || first.OrderID != "PAPER-1" || second.OrderID != "PAPER-2" {
		t.Errorf("outcomes = %+v / %+v", first, second)
	}
	if len(p.Placed()) != 2 {
		t.Errorf("placed = %d", len(p.Placed()))
	}
}
