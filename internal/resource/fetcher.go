// Package resource implements the stale-while-revalidate resource cache in front of the
// content API.
package resource

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/codec"
	"github.com/avalanche-app/rockclient/internal/events"
	"github.com/avalanche-app/rockclient/internal/httpclient"
	"github.com/avalanche-app/rockclient/internal/secrets"
	"github.com/avalanche-app/rockclient/internal/store"
	"github.com/avalanche-app/rockclient/pkg/logger"
	"github.com/avalanche-app/rockclient/pkg/model"
)

// TTLHeader carries the cache lifetime of a response in whole seconds.
const TTLHeader = "TTL"

// TokenSource yields the current bearer, or "" when signed out.
type TokenSource interface {
	AccessToken(ctx context.Context) string
}

type FetcherOptions struct {
	Logger    *zap.Logger
	Executor  *httpclient.Executor
	BaseURL   string
	Tokens    TokenSource
	Client    secrets.ClientResolver
	UserAgent string
	// LegacyClientHeaders sends the client secret as a second client_id header value,
	// which is what deployed servers expect.
	LegacyClientHeaders bool
	Store               store.ResourceStore
	Events              events.Publisher
	Now                 func() time.Time
}

// Fetcher talks to the content API. Every call is exactly one round trip.
type Fetcher struct {
	logger    *zap.Logger
	exec      *httpclient.Executor
	baseURL   string
	tokens    TokenSource
	client    secrets.ClientResolver
	userAgent string
	legacy    bool
	store     store.ResourceStore
	events    events.Publisher
	now       func() time.Time
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	opts.Logger = logger.OrNop(opts.Logger)
	if opts.Executor == nil {
		opts.Executor = httpclient.New(opts.Logger, nil, nil, "content")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Fetcher{
		logger:    opts.Logger,
		exec:      opts.Executor,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		tokens:    opts.Tokens,
		client:    opts.Client,
		userAgent: opts.UserAgent,
		legacy:    opts.LegacyClientHeaders,
		store:     opts.Store,
		events:    opts.Events,
		now:       opts.Now,
	}
}

// Download GETs url and, on a 2xx with a non-blank body, writes it to the store.
// Any failure yields false.
func (f *Fetcher) Download(ctx context.Context, url string) (*model.CachedResource, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+url, nil)
	if err != nil {
		f.logger.Warn("resource.download_failed", zap.String("url", url), zap.Error(err))
		return nil, false
	}
	f.decorate(ctx, req)

	resp, err := f.exec.Do(ctx, req)
	if err != nil || !resp.OK() {
		return nil, false
	}
	payload := string(resp.Body)
	if strings.TrimSpace(payload) == "" {
		f.logger.Debug("resource.empty_body", zap.String("url", url))
		return nil, false
	}

	r := &model.CachedResource{
		URL:       url,
		Payload:   payload,
		ExpiresAt: f.now().Add(parseTTL(resp.Header.Get(TTLHeader))),
	}
	if f.store != nil {
		if err := f.store.Put(ctx, r); err != nil {
			f.logger.Warn("resource.cache_write_failed", zap.String("url", url), zap.Error(err))
		}
	}
	if f.events != nil {
		f.events.Publish(events.ResourceCached{URL: url, ExpiresAt: r.ExpiresAt, Size: len(payload)})
	}
	return r, true
}

// UploadRaw POSTs body as JSON and returns the raw response payload. Nothing is cached.
func (f *Fetcher) UploadRaw(ctx context.Context, url string, body map[string]string) (string, bool) {
	data, err := codec.EncodeJSON(body)
	if err != nil {
		f.logger.Warn("resource.upload_failed", zap.String("url", url), zap.Error(err))
		return "", false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+url, bytes.NewReader(data))
	if err != nil {
		f.logger.Warn("resource.upload_failed", zap.String("url", url), zap.Error(err))
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")
	f.decorate(ctx, req)

	resp, err := f.exec.Do(ctx, req)
	if err != nil || !resp.OK() {
		return "", false
	}
	payload := string(resp.Body)
	if strings.TrimSpace(payload) == "" {
		return "", false
	}
	return payload, true
}

func (f *Fetcher) decorate(ctx context.Context, req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if f.tokens == nil {
		return
	}
	token := f.tokens.AccessToken(ctx)
	if strings.TrimSpace(token) == "" {
		return
	}

	if f.client != nil {
		id, err := f.client.Resolve(ctx)
		if err != nil {
			f.logger.Warn("resource.client_identity_failed", zap.Error(err))
		} else if f.legacy {
			// set directly: the server matches the lowercase name
			req.Header["client_id"] = []string{id.ClientID, id.ClientSecret}
		} else {
			req.Header["client_id"] = []string{id.ClientID}
			req.Header["client_secret"] = []string{id.ClientSecret}
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

// parseTTL reads whole seconds as a 32-bit integer; anything else, out-of-range
// values included, is 0.
func parseTTL(v string) time.Duration {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Second
}
