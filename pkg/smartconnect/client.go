// Package smartconnect is a small client for the Angel One SmartAPI REST and
// SmartStream endpoints used by the bot: login, token refresh, LTP, one-minute
// candles and order placement.
//
// The client holds no session state. Every authenticated call takes an Auth
// value, so one Client serves every account concurrently.
//
// Usage example:
//
//	sc := smartconnect.New(smartconnect.Config{})
//	tok, err := sc.GenerateSession(ctx, apiKey, "CLIENTID", "PIN", totpCode)
//	if err != nil { log.Fatal(err) }
//	ltp, err := sc.LTPData(ctx, smartconnect.Auth{APIKey: apiKey, JWT: tok.JWT}, "NSE", "Nifty 50", "99926000")
package smartconnect

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// ---- Config & client ----

type Config struct {
	RootURL        string // default: https://apiconnect.angelone.in
	Debug          bool
	Timeout        time.Duration // default: 7s
	DisableSSL     bool          // if true, InsecureSkipVerify
	UserType       string        // default: USER
	SourceID       string        // default: WEB
	ClientPublicIP string        // default 106.193.147.98
	ClientLocalIP  string        // default resolved, else 127.0.0.1
	ClientMAC      string        // default from interface MAC
	HTTPClient     *http.Client  // optional, overrides Timeout/DisableSSL
}

// Client talks to the SmartAPI REST endpoints.
type Client struct {
	rootURL string
	debug   bool

	httpClient *http.Client

	userType       string
	sourceID       string
	clientPublicIP string
	clientLocalIP  string
	clientMAC      string
}

// Auth carries the per-account credentials for one call.
type Auth struct {
	APIKey string
	JWT    string // empty for login
}

// Tokens is the token set returned by login and refresh.
type Tokens struct {
	JWT     string
	Refresh string
	Feed    string
}

// APIError is a SmartAPI error envelope: {"error_type": ..., "message": ...}
// or {"status": false, "errorcode": ..., "message": ...}.
type APIError struct {
	HTTPStatus int
	ErrorType  string
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	code := e.ErrorCode
	if code == "" {
		code = e.ErrorType
	}
	return fmt.Sprintf("smartapi %d %s: %s", e.HTTPStatus, code, e.Message)
}

// TokenExpired reports whether the broker rejected the JWT itself.
func (e *APIError) TokenExpired() bool {
	return e.HTTPStatus == http.StatusForbidden && e.ErrorType == "TokenException"
}

const defaultRoot = "https://apiconnect.angelone.in"

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.token":        "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.user.profile": "/rest/secure/angelbroking/user/v1/getProfile",

	"api.order.place": "/rest/secure/angelbroking/order/v1/placeOrder",

	"api.ltp.data":    "/rest/secure/angelbroking/order/v1/getLtpData",
	"api.candle.data": "/rest/secure/angelbroking/historical/v1/getCandleData",
}

// GetLocalIP finds your local IP address
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, address := range addrs {
		// Check if it's an IP address and not a loopback
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no local IP found")
}

// New initializes the client, resolving the client-identification headers
// SmartAPI requires.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.UserType == "" {
		cfg.UserType = "USER"
	}
	if cfg.SourceID == "" {
		cfg.SourceID = "WEB"
	}
	if cfg.ClientLocalIP == "" {
		localIP, err := GetLocalIP()
		if err != nil {
			log.Printf("[smartconnect] local IP: %v", err)
		}
		cfg.ClientLocalIP = firstNonEmpty(localIP, "127.0.0.1")
	}
	cfg.ClientPublicIP = firstNonEmpty(cfg.ClientPublicIP, "106.193.147.98")
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = getMACFallback()
	}

	client := cfg.HTTPClient
	if client == nil {
		tr := &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: cfg.DisableSSL,
			},
		}
		client = &http.Client{Transport: tr, Timeout: cfg.Timeout}
	}

	return &Client{
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		httpClient:     client,
		userType:       cfg.UserType,
		sourceID:       cfg.SourceID,
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func getMACFallback() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Helpers ----

func (c *Client) requestHeaders(auth Auth) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", c.clientLocalIP)
	h.Set("X-ClientPublicIP", c.clientPublicIP)
	h.Set("X-MACAddress", c.clientMAC)
	h.Set("X-PrivateKey", auth.APIKey)
	h.Set("X-UserType", c.userType)
	h.Set("X-SourceID", c.sourceID)
	if auth.JWT != "" {
		h.Set("Authorization", "Bearer "+auth.JWT)
	}
	return h
}

// Do POSTs params as JSON to route and returns the raw body and status.
// err is non-nil only for an unknown route or a transport failure; the body
// is returned untouched so callers can apply their own response handling.
func (c *Client) Do(ctx context.Context, route string, auth Auth, params any) ([]byte, int, error) {
	uri, ok := routes[route]
	if !ok {
		return nil, 0, fmt.Errorf("unknown route: %s", route)
	}
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, 0, fmt.Errorf("encode %s params: %w", route, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rootURL+uri, bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	req.Header = c.requestHeaders(auth)

	if c.debug {
		log.Printf("[smartconnect] request: %s %s", route, string(b))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if c.debug {
		log.Printf("[smartconnect] response: %s code=%d body=%s", route, resp.StatusCode, string(raw))
	}
	return raw, resp.StatusCode, nil
}

// envelope is the common SmartAPI JSON response shape.
type envelope struct {
	Status    any             `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// call runs Do and decodes a successful envelope's data into out.
func (c *Client) call(ctx context.Context, route string, auth Auth, params, out any) error {
	raw, code, err := c.Do(ctx, route, auth, params)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("couldn't parse %s response (http %d): %w", route, code, err)
	}
	if env.ErrorType != "" {
		return &APIError{HTTPStatus: code, ErrorType: env.ErrorType, Message: env.Message}
	}
	if st, ok := env.Status.(bool); ok && !st {
		return &APIError{HTTPStatus: code, ErrorCode: env.ErrorCode, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%s: empty data in response", route)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", route, err)
	}
	return nil
}

// ---- API Methods ----

type tokenData struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// GenerateSession logs in with client code, PIN and the current TOTP code.
func (c *Client) GenerateSession(ctx context.Context, apiKey, clientCode, pin, totp string) (Tokens, error) {
	params := map[string]any{"clientcode": clientCode, "password": pin, "totp": totp}
	var d tokenData
	if err := c.call(ctx, "api.login", Auth{APIKey: apiKey}, params, &d); err != nil {
		return Tokens{}, err
	}
	if d.JWTToken == "" {
		return Tokens{}, errors.New("login response has no jwtToken")
	}
	return Tokens{JWT: d.JWTToken, Refresh: d.RefreshToken, Feed: d.FeedToken}, nil
}

// RenewAccessToken exchanges a refresh token for a new token set.
// A refresh token that is not rotated by the broker is carried over.
func (c *Client) RenewAccessToken(ctx context.Context, auth Auth, refreshToken string) (Tokens, error) {
	var d tokenData
	if err := c.call(ctx, "api.token", auth, map[string]any{"refreshToken": refreshToken}, &d); err != nil {
		return Tokens{}, err
	}
	if d.JWTToken == "" {
		return Tokens{}, errors.New("refresh response has no jwtToken")
	}
	if d.RefreshToken == "" {
		d.RefreshToken = refreshToken
	}
	return Tokens{JWT: d.JWTToken, Refresh: d.RefreshToken, Feed: d.FeedToken}, nil
}

// Profile is the subset of getProfile the bot displays.
type Profile struct {
	ClientCode string   `json:"clientcode"`
	Name       string   `json:"name"`
	Exchanges  []string `json:"exchanges"`
}

func (c *Client) GetProfile(ctx context.Context, auth Auth, refreshToken string) (Profile, error) {
	var p Profile
	err := c.call(ctx, "api.user.profile", auth, map[string]any{"refreshToken": refreshToken}, &p)
	return p, err
}

// LTPData returns the last traded price of one instrument, in rupees.
func (c *Client) LTPData(ctx context.Context, auth Auth, exchange, tradingSymbol, token string) (float64, error) {
	params := map[string]any{"exchange": exchange, "tradingsymbol": tradingSymbol, "symboltoken": token}
	var d struct {
		LTP float64 `json:"ltp"`
	}
	if err := c.call(ctx, "api.ltp.data", auth, params, &d); err != nil {
		return 0, err
	}
	return d.LTP, nil
}

// CandleParams selects a historical candle range.
type CandleParams struct {
	Exchange    string    `json:"exchange"`
	SymbolToken string    `json:"symboltoken"`
	Interval    string    `json:"interval"` // ONE_MINUTE, FIVE_MINUTE, ...
	From        time.Time `json:"-"`
	To          time.Time `json:"-"`
}

// Candle is one row of getCandleData.
type Candle struct {
	TS     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

const candleTimeLayout = "2006-01-02 15:04"

// GetCandleData fetches historical candles. Rows come back oldest first as
// [timestamp, open, high, low, close, volume].
func (c *Client) GetCandleData(ctx context.Context, auth Auth, p CandleParams) ([]Candle, error) {
	params := map[string]any{
		"exchange":    p.Exchange,
		"symboltoken": p.SymbolToken,
		"interval":    p.Interval,
		"fromdate":    p.From.Format(candleTimeLayout),
		"todate":      p.To.Format(candleTimeLayout),
	}
	var rows [][]json.RawMessage
	if err := c.call(ctx, "api.candle.data", auth, params, &rows); err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(rows))
	for i, row := range rows {
		cd, err := parseCandleRow(row)
		if err != nil {
			return nil, fmt.Errorf("candle row %d: %w", i, err)
		}
		out = append(out, cd)
	}
	return out, nil
}

func parseCandleRow(row []json.RawMessage) (Candle, error) {
	if len(row) < 5 {
		return Candle{}, fmt.Errorf("want at least 5 fields, got %d", len(row))
	}
	var ts string
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return Candle{}, fmt.Errorf("timestamp: %w", err)
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return Candle{}, err
	}
	var f [4]float64
	for k := 0; k < 4; k++ {
		if err := json.Unmarshal(row[k+1], &f[k]); err != nil {
			return Candle{}, fmt.Errorf("price field %d: %w", k+1, err)
		}
	}
	var vol int64
	if len(row) > 5 {
		var v float64
		if err := json.Unmarshal(row[5], &v); err == nil {
			vol = int64(v)
		}
	}
	return Candle{TS: t, Open: f[0], High: f[1], Low: f[2], Close: f[3], Volume: vol}, nil
}

// OrderParams is the placeOrder request body. SmartAPI takes every numeric
// field as a string.
type OrderParams struct {
	Variety          string `json:"variety"`
	TradingSymbol    string `json:"tradingsymbol"`
	SymbolToken      string `json:"symboltoken"`
	TransactionType  string `json:"transactiontype"`
	Exchange         string `json:"exchange"`
	OrderType        string `json:"ordertype"`
	ProductType      string `json:"producttype"`
	Duration         string `json:"duration"`
	Quantity         string `json:"quantity"`
	Price            string `json:"price"`
	SquareOff        string `json:"squareoff"`
	StopLoss         string `json:"stoploss"`
	TrailingStopLoss string `json:"trailingstoploss,omitempty"`
}

// PlaceOrder submits an order and returns the raw response. The body is not
// interpreted here because placeOrder may answer with a JSON envelope or a
// bare string.
func (c *Client) PlaceOrder(ctx context.Context, auth Auth, p OrderParams) ([]byte, int, error) {
	return c.Do(ctx, "api.order.place", auth, p)
}
