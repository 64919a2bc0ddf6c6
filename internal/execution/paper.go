package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"optbot/pkg/smartconnect"
)

// PaperPlacer accepts every order without calling the broker. It answers
// with the same envelope placeOrder returns so the normal response path is
// exercised end to end.
type PaperPlacer struct {
	mu     sync.Mutex
	seq    int64
	placed []smartconnect.OrderParams
}

// NewPaperPlacer creates a paper placer.
func NewPaperPlacer() *PaperPlacer {
	return &PaperPlacer{}
}

// PlaceOrder records p and returns a synthetic order id.
func (p *PaperPlacer) PlaceOrder(_ context.Context, _ smartconnect.Auth, params smartconnect.OrderParams) ([]byte, int, error) {
	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("PAPER-%d", p.seq)
	p.placed = append(p.placed, params)
	p.mu.Unlock()

	log.Printf("[paper] %s %s qty=%s type=%s price=%s order=%s",
		params.TransactionType, params.TradingSymbol, params.Quantity, params.OrderType, params.Price, id)

	body, err := json.Marshal(map[string]any{
		"status":    true,
		"message":   "SUCCESS",
		"errorcode": "",
		"data":      map[string]string{"script": params.TradingSymbol, "orderid": id},
	})
	return body, http.StatusOK, err
}

// Placed returns a snapshot of every order accepted so far.
func (p *PaperPlacer) Placed() []smartconnect.OrderParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]smartconnect.OrderParams, len(p.placed))
	copy(cp, p.placed)
	return cp
}
