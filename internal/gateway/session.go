package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionProvider hands out backend session tokens.
type SessionProvider interface {
	Session(ctx context.Context) (string, error)
	// Invalidate drops token if it is still the cached one.
	Invalidate(token string)
}

// StaticSession always returns the same token. Useful for sandboxes that do
// not require a login.
type StaticSession string

func (s StaticSession) Session(context.Context) (string, error) { return string(s), nil }
func (s StaticSession) Invalidate(string)                       {}

// LoginSession logs in with username/password and caches the session until it
// expires or the backend reports it stale.
type LoginSession struct {
	client   *Client
	username string
	password string
	ttl      time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time
}

// NewLoginSession creates a provider that logs in through client. A zero ttl
// defaults to 20 minutes.
func NewLoginSession(client *Client, username, password string, ttl time.Duration) *LoginSession {
	if ttl <= 0 {
		ttl = 20 * time.Minute
	}
	return &LoginSession{
		client:   client,
		username: username,
		password: password,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *LoginSession) Session(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.expiry.After(s.now()) {
		return s.token, nil
	}

	params := struct {
		Username string `xml:"Username"`
		Password string `xml:"Password"`
	}{s.username, s.password}
	var out struct {
		SessionID string `xml:"SessionId"`
	}
	if err := s.client.send(ctx, "Login", "", params, &out); err != nil {
		return "", fmt.Errorf("backend login: %w", err)
	}
	if out.SessionID == "" {
		return "", &Fault{Code: FaultSessionExpired, Message: "login returned no session"}
	}

	s.token = out.SessionID
	s.expiry = s.now().Add(s.ttl)
	return s.token, nil
}

func (s *LoginSession) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == token {
		s.token = ""
		s.expiry = time.Time{}
	}
}
