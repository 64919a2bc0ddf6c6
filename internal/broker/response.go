package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// ResultKind tags a normalized placeOrder response.
type ResultKind int

const (
	Accepted ResultKind = iota
	Rejected
	Malformed
)

func (k ResultKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "malformed"
	}
}

// Result is the tagged outcome of one placeOrder call.
// Accepted carries OrderID, Rejected carries Code, Malformed carries Raw.
type Result struct {
	Kind    ResultKind
	OrderID string
	Code    string
	Message string
	Raw     string
}

// Session-expired codes: invalid token, expired token, missing token and
// AMX session expiry.
var sessionCodes = map[string]bool{
	"AG8001": true,
	"AG8002": true,
	"AG8003": true,
	"AB1010": true,
}

// SessionExpired reports whether the rejection calls for a fresh login.
func (r Result) SessionExpired() bool {
	return r.Kind == Rejected && (sessionCodes[r.Code] || r.Code == "TokenException")
}

// Err converts a non-accepted result to a classified error.
func (r Result) Err() error {
	switch {
	case r.Kind == Accepted:
		return nil
	case r.SessionExpired():
		return NewOrderError(KindAuth, r.Code, r.Message, nil)
	case r.Kind == Rejected:
		return NewOrderError(KindRejected, r.Code, r.Message, nil)
	default:
		return NewOrderError(KindMalformed, "", truncate(r.Raw, 120), nil)
	}
}

var (
	errorCodeRe = regexp.MustCompile(`^[A-Z]{2}\d{4}$`)
	orderIDRe   = regexp.MustCompile(`^\d+$`)
)

// success statuses seen from placeOrder
var okStatus = map[string]bool{"ok": true, "success": true, "true": true}

// ParseOrderResponse normalizes a placeOrder answer. The broker may send a
// JSON envelope, a JSON string, or a bare unquoted string; the string forms
// carry either an error code or a numeric order id.
func ParseOrderResponse(httpStatus int, raw []byte) Result {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 {
		return Result{Kind: Malformed, Raw: string(raw)}
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return parseBare(string(body))
	}

	switch t := v.(type) {
	case map[string]any:
		return parseEnvelope(httpStatus, t, string(body))
	case string:
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "{") {
			// double-encoded envelope
			var m map[string]any
			if err := json.Unmarshal([]byte(s), &m); err == nil {
				return parseEnvelope(httpStatus, m, s)
			}
		}
		return parseBare(s)
	case float64:
		return parseBare(fmt.Sprintf("%.0f", t))
	default:
		return Result{Kind: Malformed, Raw: string(body)}
	}
}

func parseBare(s string) Result {
	switch {
	case orderIDRe.MatchString(s):
		return Result{Kind: Accepted, OrderID: s, Raw: s}
	case errorCodeRe.MatchString(s):
		return Result{Kind: Rejected, Code: s, Raw: s}
	default:
		return Result{Kind: Malformed, Raw: s}
	}
}

func parseEnvelope(httpStatus int, m map[string]any, raw string) Result {
	msg, _ := m["message"].(string)

	if et, _ := m["error_type"].(string); et != "" {
		code := et
		if et == "TokenException" && httpStatus != http.StatusForbidden {
			// only a 403 TokenException is a dead session
			code = "TOKEN_ERROR"
		}
		return Result{Kind: Rejected, Code: code, Message: msg, Raw: raw}
	}

	status, present := m["status"]
	if !present {
		return Result{Kind: Malformed, Raw: raw}
	}
	if !statusOK(status) {
		return Result{Kind: Rejected, Code: errorCode(m, "UNKNOWN_ERROR_CODE"), Message: msg, Raw: raw}
	}

	data, _ := m["data"].(map[string]any)
	if id := stringField(data, "orderid"); id != "" {
		return Result{Kind: Accepted, OrderID: id, Message: msg, Raw: raw}
	}
	return Result{Kind: Rejected, Code: errorCode(m, "NO_ORDER_ID"), Message: msg, Raw: raw}
}

func statusOK(v any) bool {
	switch s := v.(type) {
	case bool:
		return s
	case string:
		return okStatus[strings.ToLower(s)]
	}
	return false
}

func errorCode(m map[string]any, fallback string) string {
	for _, k := range []string{"errorcode", "errorCode"} {
		if c := stringField(m, k); c != "" {
			return c
		}
	}
	return fallback
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
