// Package auth owns the signed-in user's OAuth2 credential: password login, refresh-token
// renewal, logout and persistence of the token triple in the settings store.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/avalanche-app/rockclient/internal/events"
	"github.com/avalanche-app/rockclient/internal/httpclient"
	"github.com/avalanche-app/rockclient/internal/metrics"
	"github.com/avalanche-app/rockclient/internal/secrets"
	"github.com/avalanche-app/rockclient/internal/settings"
	"github.com/avalanche-app/rockclient/pkg/logger"
	"github.com/avalanche-app/rockclient/pkg/model"
	"github.com/avalanche-app/rockclient/pkg/utils"
)

// expiryMargin is subtracted from expires_in so a token is never sent in its last minute.
const expiryMargin = 60 * time.Second

// CacheClearer wipes the resource cache on login and logout.
type CacheClearer interface {
	ClearAll(ctx context.Context) error
}

type Options struct {
	Logger        *zap.Logger
	Executor      *httpclient.Executor
	BaseURL       string
	TokenEndpoint string
	Client        secrets.ClientResolver
	Settings      settings.Store
	Cache         CacheClearer
	Events        events.Publisher
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager is safe for concurrent use.
type Manager struct {
	logger   *zap.Logger
	exec     *httpclient.Executor
	tokenURL string
	client   secrets.ClientResolver
	settings settings.Store
	cache    CacheClearer
	events   events.Publisher
	now      func() time.Time

	mu    sync.Mutex
	cred  model.Credential
	group singleflight.Group
	// commitMu orders credential writes to settings with their in-memory swap,
	// so a logout cannot interleave with a refresh landing.
	commitMu sync.Mutex
}

// NewManager builds a Manager and restores any credential persisted by a previous run.
func NewManager(ctx context.Context, opts Options) *Manager {
	opts.Logger = logger.OrNop(opts.Logger)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Executor == nil {
		opts.Executor = httpclient.New(opts.Logger, nil, nil, "token")
	}
	if opts.Settings == nil {
		opts.Settings = settings.NewMemory()
	}
	m := &Manager{
		logger:   opts.Logger,
		exec:     opts.Executor,
		tokenURL: tokenURL(opts.BaseURL, opts.TokenEndpoint),
		client:   opts.Client,
		settings: opts.Settings,
		cache:    opts.Cache,
		events:   opts.Events,
		now:      opts.Now,
	}
	m.restore(ctx)
	return m
}

// AccessToken returns a bearer that is usable right now, renewing it with the refresh token
// when it has expired. It returns "" when no session exists or renewal fails.
func (m *Manager) AccessToken(ctx context.Context) string {
	m.mu.Lock()
	cred := m.cred
	m.mu.Unlock()

	if cred.Usable(m.now()) {
		return cred.BearerToken
	}
	if cred.RefreshToken == "" {
		return ""
	}

	// Refresh tokens rotate, so a second exchange of the same one would be rejected.
	// Waiters share this exchange, so it must not die with the first caller's context.
	shared := context.WithoutCancel(ctx)
	v, _, _ := m.group.Do(cred.RefreshToken, func() (any, error) {
		return m.refresh(shared, cred.RefreshToken), nil
	})
	return v.(string)
}

// Current returns a copy of the in-memory credential.
func (m *Manager) Current() model.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// Login performs the password grant.
func (m *Manager) Login(ctx context.Context, username, password string) model.LoginResult {
	result := m.login(ctx, username, password)
	metrics.IncLogin(result.String())
	return result
}

func (m *Manager) login(ctx context.Context, username, password string) model.LoginResult {
	resp, err := m.postToken(ctx, url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	})
	if err != nil {
		m.logger.Warn("auth.login_error", zap.Error(err))
		return model.LoginError
	}
	if !resp.OK() {
		m.logger.Info("auth.login_rejected",
			zap.Int("status", resp.Status),
			zap.String("body", string(resp.Body)))
		m.rejected(resp.Status)
		return model.LoginFailure
	}

	tok, err := decodeToken(resp.Body)
	if err != nil {
		m.logger.Warn("auth.login_error", zap.Error(err))
		return model.LoginError
	}

	cred := m.credentialFrom(tok)
	m.commitMu.Lock()
	if err := m.persist(ctx, cred); err != nil {
		m.commitMu.Unlock()
		m.logger.Warn("auth.persist_failed", zap.Error(err))
		return model.LoginError
	}
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()
	m.commitMu.Unlock()

	m.clearCache(ctx)
	m.publish(events.SessionStarted{Username: username, ExpiresAt: cred.ExpiresAt})
	m.logger.Info("auth.login_success",
		zap.String("bearer", utils.MaskToken(cred.BearerToken)),
		zap.Time("expires_at", cred.ExpiresAt))
	return model.LoginSuccess
}

// Logout forgets the credential and wipes the resource cache.
func (m *Manager) Logout(ctx context.Context) {
	m.commitMu.Lock()
	m.mu.Lock()
	m.cred = model.Credential{}
	m.mu.Unlock()

	if err := m.settings.Delete(ctx, model.CredentialKeys...); err != nil {
		m.logger.Warn("auth.clear_settings_failed", zap.Error(err))
	}
	m.commitMu.Unlock()
	m.clearCache(ctx)
	m.publish(events.SessionEnded{At: m.now()})
	m.logger.Info("auth.logout")
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) string {
	resp, err := m.postToken(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
	if err != nil {
		metrics.IncTokenRefresh("transport_error")
		m.logger.Warn("auth.refresh_failed", zap.Error(err))
		return ""
	}
	if !resp.OK() {
		metrics.IncTokenRefresh("rejected")
		m.rejected(resp.Status)
		m.revoke(ctx, refreshToken, resp.Status)
		return ""
	}

	tok, err := decodeToken(resp.Body)
	if err != nil {
		metrics.IncTokenRefresh("decode_error")
		m.logger.Warn("auth.refresh_failed", zap.Error(err))
		return ""
	}

	cred := m.credentialFrom(tok)
	m.commitMu.Lock()
	m.mu.Lock()
	current := m.cred.RefreshToken
	m.mu.Unlock()
	if current != refreshToken {
		// logged out or logged in again while the exchange was in flight
		m.commitMu.Unlock()
		metrics.IncTokenRefresh("superseded")
		m.logger.Info("auth.refresh_superseded")
		return ""
	}
	if err := m.persist(ctx, cred); err != nil {
		m.logger.Warn("auth.persist_failed", zap.Error(err))
	}
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()
	m.commitMu.Unlock()

	metrics.IncTokenRefresh("ok")
	m.logger.Info("auth.token_refreshed",
		zap.String("bearer", utils.MaskToken(cred.BearerToken)),
		zap.Time("expires_at", cred.ExpiresAt))
	return cred.BearerToken
}

// revoke drops the credential after the endpoint rejected refreshToken. A credential that
// was replaced in the meantime (a login racing the refresh) is left alone.
func (m *Manager) revoke(ctx context.Context, refreshToken string, status int) {
	m.commitMu.Lock()
	m.mu.Lock()
	if m.cred.RefreshToken != refreshToken {
		m.mu.Unlock()
		m.commitMu.Unlock()
		return
	}
	m.cred = model.Credential{}
	m.mu.Unlock()

	if err := m.settings.Delete(ctx, model.CredentialKeys...); err != nil {
		m.logger.Warn("auth.clear_settings_failed", zap.Error(err))
	}
	m.commitMu.Unlock()
	m.publish(events.SessionRevoked{Status: status, At: m.now()})
	m.logger.Info("auth.session_revoked", zap.Int("status", status))
}

// rejected drops a cached client identity after a 401 so a rotated secret is read again.
func (m *Manager) rejected(status int) {
	if status != http.StatusUnauthorized {
		return
	}
	if inv, ok := m.client.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}
}

func (m *Manager) postToken(ctx context.Context, form url.Values) (*httpclient.Response, error) {
	if m.client == nil {
		return nil, fmt.Errorf("no client credentials configured")
	}
	id, err := m.client.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve client credentials: %w", err)
	}
	form.Set("client_id", id.ClientID)
	form.Set("client_secret", id.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return m.exec.Do(ctx, req)
}

// tokenURL accepts an absolute endpoint or a path under baseURL.
func tokenURL(baseURL, endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return strings.TrimRight(baseURL, "/") + endpoint
}

func decodeToken(body []byte) (*model.TokenResponse, error) {
	var tok model.TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned empty access_token")
	}
	return &tok, nil
}

func (m *Manager) credentialFrom(tok *model.TokenResponse) model.Credential {
	return model.Credential{
		BearerToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(tok.ExpiresIn)*time.Second - expiryMargin),
	}
}

func (m *Manager) persist(ctx context.Context, c model.Credential) error {
	return m.settings.Set(ctx, map[string]string{
		model.SettingBearer:       c.BearerToken,
		model.SettingExpiration:   c.ExpiresAt.Format(time.RFC3339Nano),
		model.SettingRefreshToken: c.RefreshToken,
	})
}

func (m *Manager) restore(ctx context.Context) {
	var c model.Credential
	var err error
	get := func(key string) string {
		if err != nil {
			return ""
		}
		var v string
		v, _, err = m.settings.Get(ctx, key)
		return v
	}
	c.BearerToken = get(model.SettingBearer)
	c.RefreshToken = get(model.SettingRefreshToken)
	exp := get(model.SettingExpiration)
	if err != nil {
		m.logger.Warn("auth.restore_failed", zap.Error(err))
		return
	}
	if exp != "" {
		// an unparseable expiration leaves the zero time, which forces a refresh
		c.ExpiresAt, _ = time.Parse(time.RFC3339Nano, exp)
	}

	m.mu.Lock()
	m.cred = c
	m.mu.Unlock()
	if c.RefreshToken != "" || c.BearerToken != "" {
		m.logger.Debug("auth.restored", zap.Time("expires_at", c.ExpiresAt))
	}
}

func (m *Manager) clearCache(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.ClearAll(ctx); err != nil {
		m.logger.Warn("auth.cache_clear_failed", zap.Error(err))
	}
}

func (m *Manager) publish(ev events.Event) {
	if m.events != nil {
		m.events.Publish(ev)
	}
}
