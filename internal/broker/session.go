package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/pquerna/otp/totp"

	"optbot/internal/model"
	"optbot/pkg/smartconnect"
)

// Session is a logged-in broker session for one account. It is a value:
// refreshing returns a new Session rather than mutating a shared client.
type Session struct {
	Username  string
	ClientID  string
	APIKey    string
	Tokens    smartconnect.Tokens
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// Auth returns the per-call credentials for this session.
func (s Session) Auth() smartconnect.Auth {
	return smartconnect.Auth{APIKey: s.APIKey, JWT: s.Tokens.JWT}
}

// Fresh reports whether the session can be used at now, keeping skew of
// headroom before the token's expiry.
func (s Session) Fresh(now time.Time, skew time.Duration) bool {
	if s.Tokens.JWT == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Add(skew).Before(s.ExpiresAt)
}

// tokenExpiry reads the exp claim without verifying the signature; the broker
// verifies its own tokens.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, ok := claims["exp"].(float64)
	if !ok || exp <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(exp), 0)
}

// Authenticator obtains sessions for accounts.
type Authenticator interface {
	Login(ctx context.Context, acct model.Account) (Session, error)
	Refresh(ctx context.Context, acct model.Account, stale Session) (Session, error)
}

// SessionAPI is the part of the SmartAPI client the authenticator needs.
type SessionAPI interface {
	GenerateSession(ctx context.Context, apiKey, clientCode, pin, totp string) (smartconnect.Tokens, error)
	RenewAccessToken(ctx context.Context, auth smartconnect.Auth, refreshToken string) (smartconnect.Tokens, error)
}

// TOTPAuthenticator logs in with client id, PIN and a TOTP code generated
// from the account's seed.
type TOTPAuthenticator struct {
	api SessionAPI
	now func() time.Time
}

// NewTOTPAuthenticator creates an authenticator over api.
func NewTOTPAuthenticator(api SessionAPI) *TOTPAuthenticator {
	return &TOTPAuthenticator{api: api, now: time.Now}
}

func (a *TOTPAuthenticator) Login(ctx context.Context, acct model.Account) (Session, error) {
	code, err := totp.GenerateCode(acct.TOTPSecret, a.now())
	if err != nil {
		return Session{}, NewOrderError(KindAuth, "TOTP", "generate code for "+acct.Username, err)
	}
	tok, err := a.api.GenerateSession(ctx, acct.APIKey, acct.ClientID, acct.PIN, code)
	if err != nil {
		return Session{}, classifyAPI(err, "login "+acct.Username)
	}
	return a.session(acct, tok), nil
}

func (a *TOTPAuthenticator) Refresh(ctx context.Context, acct model.Account, stale Session) (Session, error) {
	if stale.Tokens.Refresh == "" {
		return a.Login(ctx, acct)
	}
	tok, err := a.api.RenewAccessToken(ctx, stale.Auth(), stale.Tokens.Refresh)
	if err != nil {
		return Session{}, classifyAPI(err, "refresh "+acct.Username)
	}
	return a.session(acct, tok), nil
}

func (a *TOTPAuthenticator) session(acct model.Account, tok smartconnect.Tokens) Session {
	return Session{
		Username:  acct.Username,
		ClientID:  acct.ClientID,
		APIKey:    acct.APIKey,
		Tokens:    tok,
		ExpiresAt: tokenExpiry(tok.JWT),
	}
}

// classifyAPI maps a SmartAPI error: broker refusals are auth failures,
// anything else is transport.
func classifyAPI(err error, op string) error {
	var apiErr *smartconnect.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode
		if code == "" {
			code = apiErr.ErrorType
		}
		return NewOrderError(KindAuth, code, op, err)
	}
	return NewOrderError(KindNetwork, "", op, err)
}

// SessionManager caches one session per account and renews on demand.
// Safe for concurrent use by per-account workers.
type SessionManager struct {
	auth   Authenticator
	skew   time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]Session
}

// NewSessionManager creates a manager. Sessions within skew of expiry are
// renewed before use.
func NewSessionManager(auth Authenticator, skew time.Duration, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		auth:     auth,
		skew:     skew,
		now:      time.Now,
		logger:   logger,
		sessions: make(map[string]Session),
	}
}

// Get returns a fresh session for acct, logging in if needed.
func (m *SessionManager) Get(ctx context.Context, acct model.Account) (Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[acct.Username]
	m.mu.Unlock()
	if ok && s.Fresh(m.now(), m.skew) {
		return s, nil
	}

	var err error
	if ok {
		s, err = m.auth.Refresh(ctx, acct, s)
		if err != nil {
			m.logger.Warn("session refresh failed, logging in", "account", acct.Username, "error", err)
			s, err = m.auth.Login(ctx, acct)
		}
	} else {
		s, err = m.auth.Login(ctx, acct)
	}
	if err != nil {
		return Session{}, fmt.Errorf("session for %s: %w", acct.Username, err)
	}
	m.store(s)
	m.logger.Info("session ready", "account", acct.Username, "expires_at", s.ExpiresAt)
	return s, nil
}

// Renew replaces a session the broker rejected. It always performs a full
// login; a rejected token is not trusted to refresh.
func (m *SessionManager) Renew(ctx context.Context, acct model.Account, _ Session) (Session, error) {
	s, err := m.auth.Login(ctx, acct)
	if err != nil {
		m.Invalidate(acct.Username)
		return Session{}, fmt.Errorf("re-login %s: %w", acct.Username, err)
	}
	m.store(s)
	m.logger.Info("session renewed", "account", acct.Username)
	return s, nil
}

// Invalidate drops the cached session for username.
func (m *SessionManager) Invalidate(username string) {
	m.mu.Lock()
	delete(m.sessions, username)
	m.mu.Unlock()
}

func (m *SessionManager) store(s Session) {
	m.mu.Lock()
	m.sessions[s.Username] = s
	m.mu.Unlock()
}
