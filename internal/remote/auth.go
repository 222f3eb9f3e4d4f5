package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/agentdesk/internal/models"
)

// SignInAuthenticator logs in through the dashboard's own sign-in endpoint
// and keeps the cookies it sets.
type SignInAuthenticator struct {
	cfg        Config
	httpClient *http.Client
	validity   time.Duration
	now        func() time.Time
}

func NewSignInAuthenticator(cfg Config, validity time.Duration, timeout time.Duration) *SignInAuthenticator {
	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = DefaultEndpoints()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Origin == "" {
		cfg.Origin = cfg.BaseURL
	}
	return &SignInAuthenticator{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		validity: validity,
		now:      time.Now,
	}
}

func (a *SignInAuthenticator) Authenticate(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	const op = "sign-in"

	body, err := json.Marshal(map[string]string{"login": creds.Login, "password": creds.Password})
	if err != nil {
		return nil, models.NewOpError(models.ErrAuthFailure, op, "failed to encode credentials", err)
	}

	url := strings.TrimRight(a.cfg.BaseURL, "/") + a.cfg.Endpoints.SignIn
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, models.NewOpError(models.ErrAuthFailure, op, "failed to build sign-in request", err)
	}
	(&Client{cfg: a.cfg}).setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, models.NewOpError(models.ErrAuthFailure, op, "agent dashboard unreachable", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	out := &Response{StatusCode: resp.StatusCode, Raw: raw, Sent: true}
	if json.Unmarshal(raw, &out.Body) == nil {
		out.Parsed = true
	}

	if resp.StatusCode >= 400 || (out.Parsed && len(out.Body.Notification) > 0 && !out.Succeeded()) {
		msg := out.Message()
		if msg == "" {
			msg = fmt.Sprintf("sign-in returned status %d", resp.StatusCode)
		}
		return nil, models.NewOpError(models.ErrAuthFailure, op, msg, nil)
	}

	now := a.now()
	kept := make([]*http.Cookie, 0)
	for _, c := range resp.Cookies() {
		if c.MaxAge < 0 {
			continue
		}
		// Max-Age wins over Expires when both are present.
		if c.MaxAge > 0 {
			c.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		kept = append(kept, c)
	}
	cookies := models.CookiesFromHTTP(kept)
	if len(cookies) == 0 {
		return nil, models.NewOpError(models.ErrAuthFailure, op, "sign-in set no cookies", nil)
	}

	expires := now.Add(a.validity)
	if earliest := models.EarliestCookieExpiry(cookies); !earliest.IsZero() && earliest.Before(expires) {
		expires = earliest
	}

	log.Printf("[REMOTE] sign-in succeeded, %d cookies, valid until %s", len(cookies), expires.Format(time.RFC3339))
	return &models.Session{
		ID:        uuid.NewString(),
		Cookies:   cookies,
		IssuedAt:  now,
		ExpiresAt: expires,
		Origin:    a.cfg.Origin,
	}, nil
}

// BrowserAuthenticator delegates login to a headless-browser service that
// can get past CAPTCHA and bot checks. Request: {login, password, origin}.
// Response: {cookies, expiresAt} or {error}.
type BrowserAuthenticator struct {
	serviceURL string
	origin     string
	validity   time.Duration
	httpClient *http.Client
	now        func() time.Time
}

func NewBrowserAuthenticator(serviceURL, origin string, validity, timeout time.Duration) *BrowserAuthenticator {
	return &BrowserAuthenticator{
		serviceURL: serviceURL,
		origin:     origin,
		validity:   validity,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type browserLoginResponse struct {
	Cookies   []models.Cookie `json:"cookies"`
	ExpiresAt *time.Time      `json:"expiresAt"`
	Error     string          `json:"error"`
}

func (a *BrowserAuthenticator) Authenticate(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	const op = "browser-login"

	body, err := json.Marshal(map[string]string{
		"login":    creds.Login,
		"password": creds.Password,
		"origin":   a.origin,
	})
	if err != nil {
		return nil, models.NewOpError(models.ErrAuthFailure, op, "failed to encode credentials", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serviceURL, bytes.NewReader(body))
	if err != nil {
		return nil, models.NewOpError(models.ErrAuthFailure, op, "failed to build login request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, models.NewOpError(models.ErrAuthFailure, op, "browser service unreachable", err)
	}
	defer resp.Body.Close()

	var result browserLoginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&result); err != nil {
		return nil, models.NewOpError(models.ErrAuthFailure, op, fmt.Sprintf("browser service returned status %d", resp.StatusCode), err)
	}
	if result.Error != "" || resp.StatusCode != http.StatusOK {
		msg := result.Error
		if msg == "" {
			msg = fmt.Sprintf("browser service returned status %d", resp.StatusCode)
		}
		return nil, models.NewOpError(models.ErrAuthFailure, op, msg, nil)
	}
	if len(result.Cookies) == 0 {
		return nil, models.NewOpError(models.ErrAuthFailure, op, "browser login produced no cookies", nil)
	}

	now := a.now()
	expires := now.Add(a.validity)
	if result.ExpiresAt != nil && result.ExpiresAt.Before(expires) {
		expires = *result.ExpiresAt
	}
	if earliest := models.EarliestCookieExpiry(result.Cookies); !earliest.IsZero() && earliest.Before(expires) {
		expires = earliest
	}

	return &models.Session{
		ID:        uuid.NewString(),
		Cookies:   result.Cookies,
		IssuedAt:  now,
		ExpiresAt: expires,
		Origin:    a.origin,
	}, nil
}
