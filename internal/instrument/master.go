// Package instrument resolves option contracts of the traded underlying to
// broker instrument identities using the SmartAPI scrip master.
package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultMasterURL is the public SmartAPI scrip master.
const DefaultMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

const (
	SegmentNFO    = "NFO"
	TypeIndexOpt  = "OPTIDX"
	masterExpiry  = "02Jan2006"
	expiryLabel   = "02Jan06"
	strikeDivisor = 100
)

// Record is one scrip master row. The feed encodes every field as a string;
// strike is in paise.
type Record struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"`
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	Segment        string `json:"exch_seg"`
	TickSize       string `json:"tick_size"`
}

// IsIndexOption reports whether r is an NFO index option.
func (r Record) IsIndexOption() bool {
	return r.Segment == SegmentNFO && r.InstrumentType == TypeIndexOpt
}

// ExpiryDate parses the record's expiry ("20MAY2025").
func (r Record) ExpiryDate() (time.Time, bool) {
	t, err := time.Parse(masterExpiry, r.Expiry)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// StrikePrice returns the strike in rupees.
func (r Record) StrikePrice() (int, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Strike), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return int(math.Round(v / strikeDivisor)), true
}

// Lot returns the contract lot size.
func (r Record) Lot() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(r.LotSize))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ParseMaster decodes the scrip master JSON array from r, keeping only index
// options. The full feed is large, so rows are decoded one at a time.
func ParseMaster(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("scrip master: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("scrip master: expected array, got %v", tok)
	}

	var out []Record
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("scrip master row %d: %w", len(out), err)
		}
		if rec.IsIndexOption() {
			out = append(out, rec)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("scrip master: %w", err)
	}
	return out, nil
}

// FetchMaster downloads and parses the scrip master. A nil client uses a
// client with a two minute timeout.
func FetchMaster(ctx context.Context, client *http.Client, url string) ([]Record, error) {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if url == "" {
		url = DefaultMasterURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch scrip master: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch scrip master: HTTP %d", resp.StatusCode)
	}
	return ParseMaster(resp.Body)
}

// Expiries lists the distinct option expiries of underlying on or after the
// calendar day of from, earliest first.
func Expiries(master []Record, underlying string, from time.Time) []time.Time {
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	seen := make(map[time.Time]struct{})
	var out []time.Time
	for _, r := range master {
		if r.Name != underlying || !r.IsIndexOption() {
			continue
		}
		t, ok := r.ExpiryDate()
		if !ok || t.Before(day) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ExpiryLabel formats an expiry date the way symbols and cache keys carry
// it: "20MAY25".
func ExpiryLabel(t time.Time) string {
	return strings.ToUpper(t.Format(expiryLabel))
}

// ParseExpiryLabel is the inverse of ExpiryLabel.
func ParseExpiryLabel(label string) (time.Time, error) {
	t, err := time.Parse(expiryLabel, label)
	if err != nil {
		return time.Time{}, fmt.Errorf("expiry label %q: %w", label, err)
	}
	return t, nil
}
