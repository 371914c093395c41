package resource

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/codec"
	"github.com/avalanche-app/rockclient/internal/metrics"
	"github.com/avalanche-app/rockclient/internal/store"
	"github.com/avalanche-app/rockclient/pkg/model"
	"github.com/avalanche-app/rockclient/pkg/observable"
)

// Downloader is the network side of the orchestrator; *Fetcher implements it.
type Downloader interface {
	Download(ctx context.Context, url string) (*model.CachedResource, bool)
	UploadRaw(ctx context.Context, url string, body map[string]string) (string, bool)
}

// Orchestrator decides between the cache and the network and writes results into holders.
type Orchestrator struct {
	store   store.ResourceStore
	fetcher Downloader
	logger  *zap.Logger
	now     func() time.Time

	revalidating sync.WaitGroup
}

func NewOrchestrator(st store.ResourceStore, fetcher Downloader, logger *zap.Logger, now func() time.Time) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{store: st, fetcher: fetcher, logger: logger, now: now}
}

// Fetch loads url into holder. A cached entry is published at once; when it is stale a
// background download follows and publishes again only if the payload changed. Without a
// usable cached entry, or when force is set, Fetch downloads and publishes on success.
// Failures leave holder untouched.
func Fetch[T any](ctx context.Context, o *Orchestrator, holder *observable.Resource[T], url string, force bool) {
	url = strings.TrimRight(url, "/")
	dec := codec.For[T]()

	if force {
		metrics.IncResourceRequest("forced")
	} else if cached, ok := o.store.Get(ctx, url); ok {
		v, err := dec.Decode(cached.Payload)
		if err == nil {
			holder.Set(v)
			metrics.IncEmission("cached")
			if !cached.Stale(o.now()) {
				metrics.IncResourceRequest("hit")
				return
			}
			metrics.IncResourceRequest("stale")
			o.revalidate(ctx, url, cached.Payload, func(payload string) {
				v, err := dec.Decode(payload)
				if err != nil {
					o.logger.Warn("resource.decode_failed", zap.String("url", url), zap.Error(err))
					return
				}
				holder.Set(v)
				metrics.IncEmission("correction")
			})
			return
		}
		o.logger.Warn("resource.cached_decode_failed", zap.String("url", url), zap.Error(err))
		metrics.IncResourceRequest("miss")
	} else {
		metrics.IncResourceRequest("miss")
	}

	fresh, ok := o.fetcher.Download(ctx, url)
	if !ok {
		return
	}
	v, err := dec.Decode(fresh.Payload)
	if err != nil {
		o.logger.Warn("resource.decode_failed", zap.String("url", url), zap.Error(err))
		return
	}
	holder.Set(v)
	metrics.IncEmission("fresh")
}

// revalidate downloads url in the background and calls apply when the payload differs from
// current. It outlives the caller's context.
func (o *Orchestrator) revalidate(ctx context.Context, url, current string, apply func(string)) {
	ctx = context.WithoutCancel(ctx)
	o.revalidating.Add(1)
	go func() {
		defer o.revalidating.Done()
		fresh, ok := o.fetcher.Download(ctx, url)
		if !ok || fresh.Payload == current {
			return
		}
		apply(fresh.Payload)
	}()
}

// Upload POSTs body to url and publishes the decoded response.
func Upload[T any](ctx context.Context, o *Orchestrator, holder *observable.Resource[T], url string, body map[string]string) {
	payload, ok := o.fetcher.UploadRaw(ctx, url, body)
	if !ok {
		return
	}
	v, err := codec.Decode[T](payload)
	if err != nil {
		o.logger.Warn("resource.decode_failed", zap.String("url", url), zap.Error(err))
		return
	}
	holder.Set(v)
	metrics.IncEmission("upload")
}

// Wait blocks until every background revalidation has finished.
func (o *Orchestrator) Wait() {
	o.revalidating.Wait()
}

func (o *Orchestrator) ClearCache(ctx context.Context) error {
	return o.store.ClearAll(ctx)
}

func (o *Orchestrator) EnsureSchema(ctx context.Context) error {
	return o.store.EnsureSchema(ctx)
}

func (o *Orchestrator) HealthCheck(ctx context.Context) error {
	return o.store.HealthCheck(ctx)
}
