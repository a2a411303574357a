package blizzard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"wowmarket/internal/ratelimit"
)

const (
	namespaceStatic  = "static"
	namespaceDynamic = "dynamic"
)

type Config struct {
	Region             string
	Locale             string
	BaseURL            string
	TokenURL           string
	ClientID           string
	ClientSecret       string
	Timeout            time.Duration
	TokenRefreshMargin time.Duration
	MaxRetries         int
}

type Client struct {
	cfg     Config
	http    *resty.Client
	oauth   clientcredentials.Config
	limiter *ratelimit.Limiter
	logger  *zap.Logger

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	// refreshMu serializes credential exchanges so concurrent callers share one refresh.
	refreshMu sync.Mutex
}

func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) *Client {
	cfg.Region = strings.ToLower(strings.TrimSpace(cfg.Region))
	if cfg.Region == "" {
		cfg.Region = "eu"
	}
	if cfg.Locale == "" {
		cfg.Locale = "en_GB"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://%s.api.blizzard.com", cfg.Region)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://oauth.battle.net/token"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TokenRefreshMargin <= 0 {
		cfg.TokenRefreshMargin = 2 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{}, logger)
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)

	return &Client{
		cfg:  cfg,
		http: rc,
		oauth: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		limiter: limiter,
		logger:  logger,
	}
}

// Authenticate runs the client-credentials exchange. It must succeed before
// any fetch; failures are returned as *CredentialError.
func (c *Client) Authenticate(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.ClientID) == "" || strings.TrimSpace(c.cfg.ClientSecret) == "" {
		return &CredentialError{Err: errors.New("client id or secret is empty")}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http.GetClient())
	tok, err := c.oauth.Token(ctx)
	if err != nil {
		return &CredentialError{Err: err}
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return &CredentialError{Err: errors.New("empty access token")}
	}

	c.mu.Lock()
	c.token = tok.AccessToken
	c.expiresAt = tok.Expiry
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("blizzard token acquired", zap.Time("expires_at", tok.Expiry))
	}
	return nil
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ensureToken returns a token valid for at least the refresh margin.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.token
	exp := c.expiresAt
	c.mu.RUnlock()
	if tok == "" {
		return "", ErrNotAuthenticated
	}
	if exp.IsZero() || time.Until(exp) >= c.cfg.TokenRefreshMargin {
		return tok, nil
	}
	return c.refresh(ctx, tok)
}

// refresh re-runs the exchange unless another caller already replaced stale.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.RLock()
	current := c.token
	exp := c.expiresAt
	c.mu.RUnlock()
	if current != stale && (exp.IsZero() || time.Until(exp) >= c.cfg.TokenRefreshMargin) {
		return current, nil
	}
	if c.logger != nil {
		c.logger.Info("refreshing blizzard token")
	}
	if err := c.login(ctx); err != nil {
		return "", err
	}
	return c.Token(), nil
}

// response is what survives a successful or 404 round trip.
type response struct {
	status int
	header http.Header
	body   []byte
}

// get issues one GET through the limiter. 404 is returned as a response,
// every other non-2xx status as *APIError.
func (c *Client) get(ctx context.Context, path, namespace string, query map[string]string) (*response, error) {
	params := map[string]string{
		"namespace": namespace + "-" + c.cfg.Region,
		"locale":    c.cfg.Locale,
	}
	for k, v := range query {
		params[k] = v
	}

	var out *response
	err := c.limiter.Do(ctx, c.cfg.MaxRetries, func(ctx context.Context) (http.Header, error) {
		tok, err := c.ensureToken(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.send(ctx, path, tok, params)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			// Token revoked or expired early: one forced refresh, then retry in place.
			if tok, err = c.refresh(ctx, tok); err != nil {
				return resp.Header(), err
			}
			if resp, err = c.send(ctx, path, tok, params); err != nil {
				return nil, err
			}
		}

		status := resp.StatusCode()
		switch {
		case status >= 200 && status < 300, status == http.StatusNotFound:
			out = &response{status: status, header: resp.Header(), body: resp.Body()}
			return resp.Header(), nil
		default:
			return resp.Header(), &APIError{
				Status:     status,
				Body:       truncate(strings.TrimSpace(resp.String()), 512),
				retryAfter: ratelimit.ParseRetryAfter(resp.Header(), time.Now()),
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, path, token string, params map[string]string) (*resty.Response, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transportError{err: err}
	}
	return resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
