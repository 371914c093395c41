package jobs

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/metrics"
	"github.com/avalanche-app/rockclient/pkg/model"
)

// Downloader refreshes one cached resource; *resource.Fetcher implements it.
type Downloader interface {
	Download(ctx context.Context, url string) (*model.CachedResource, bool)
}

// Prewarmer periodically downloads a fixed set of resource paths so the first screen a
// user opens is served from a fresh cache entry.
type Prewarmer struct {
	logger   *zap.Logger
	fetcher  Downloader
	paths    []string
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPrewarmer(logger *zap.Logger, fetcher Downloader, paths []string, interval time.Duration) *Prewarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	clean := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimRight(strings.TrimSpace(p), "/"); p != "" {
			clean = append(clean, p)
		}
	}
	return &Prewarmer{
		logger:   logger,
		fetcher:  fetcher,
		paths:    clean,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs one pass immediately and then one per interval until stopped.
func (p *Prewarmer) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("prewarmer.started",
		zap.Duration("interval", p.interval),
		zap.Int("paths", len(p.paths)))
	p.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-p.stopCh:
			p.logger.Info("prewarmer.stopped (manual stop)")
			return
		case <-ctx.Done():
			p.logger.Info("prewarmer.stopped (context canceled)")
			return
		}
	}
}

// Stop is safe to call more than once.
func (p *Prewarmer) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// RunOnce downloads every path and returns how many were refreshed.
func (p *Prewarmer) RunOnce(ctx context.Context) int {
	start := time.Now()
	ok := 0
	for _, path := range p.paths {
		if ctx.Err() != nil {
			break
		}
		if _, fetched := p.fetcher.Download(ctx, path); fetched {
			ok++
			metrics.IncResourceRequest("prewarm")
			continue
		}
		p.logger.Warn("prewarmer.download_failed", zap.String("url", path))
	}

	p.logger.Info("prewarmer.pass_complete",
		zap.Int("refreshed", ok),
		zap.Int("total", len(p.paths)),
		zap.Duration("duration", time.Since(start)))
	return ok
}
