package models

import (
	"errors"
	"net/http"
	"time"
)

// Cookie is the storable subset of an http.Cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"httpOnly,omitempty"`
}

// Session is the authenticated context shared by every worker talking to
// the agent dashboard.
type Session struct {
	ID        string    `json:"id"`
	Cookies   []Cookie  `json:"cookies"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Origin    string    `json:"origin"`
}

// Validate checks the session against the renewal margin. A session that
// cannot outlive its own margin is useless to callers.
func (s *Session) Validate(margin time.Duration) error {
	if s == nil {
		return errors.New("session is nil")
	}
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if len(s.Cookies) == 0 {
		return errors.New("session has no cookies")
	}
	if s.ExpiresAt.Before(s.IssuedAt.Add(margin)) {
		return errors.New("session expires before its renewal margin")
	}
	return nil
}

// Usable reports whether the session can still be handed out at now.
func (s *Session) Usable(now time.Time, margin time.Duration) bool {
	if s == nil || len(s.Cookies) == 0 {
		return false
	}
	return now.Before(s.ExpiresAt.Add(-margin))
}

// HTTPCookies converts the stored cookies for use on outgoing requests.
func (s *Session) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	return out
}

// CookiesFromHTTP copies cookies returned by the dashboard.
func CookiesFromHTTP(cookies []*http.Cookie) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	return out
}

// EarliestCookieExpiry returns the soonest non-zero cookie expiry, or the
// zero time when no cookie carries one.
func EarliestCookieExpiry(cookies []Cookie) time.Time {
	var earliest time.Time
	for _, c := range cookies {
		if c.Expires.IsZero() {
			continue
		}
		if earliest.IsZero() || c.Expires.Before(earliest) {
			earliest = c.Expires
		}
	}
	return earliest
}

// Credentials are the agent's dashboard login.
type Credentials struct {
	Login    string
	Password string
}
