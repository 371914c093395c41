package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/metrics"
	"github.com/avalanche-app/rockclient/internal/rate"
)

// maxBodyBytes caps how much of a response body is read into memory.
const maxBodyBytes = 16 << 20

// ErrBodyTooLarge is returned instead of a truncated body.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Doer is the part of *http.Client the executor needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Executor performs exactly one rate-limited round trip per call and reads the whole body.
// A non-2xx status is a normal outcome, not an error; only transport failures return an error.
type Executor struct {
	logger  *zap.Logger
	rateMgr *rate.Manager
	http    Doer
	tag     string
	maxBody int64
}

// New creates an Executor. tag prefixes log events and labels metrics ("content", "token").
// rateMgr may be nil.
func New(logger *zap.Logger, rateMgr *rate.Manager, httpClient Doer, tag string) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Executor{
		logger:  logger,
		rateMgr: rateMgr,
		http:    httpClient,
		tag:     tag,
		maxBody: maxBodyBytes,
	}
}

// Do executes req once.
func (e *Executor) Do(ctx context.Context, req *http.Request) (*Response, error) {
	if err := e.rateMgr.Wait(ctx, req.URL.Host); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	resp, err := e.http.Do(req.WithContext(ctx))
	if err != nil {
		metrics.IncHTTPRequest(e.tag, req.Method, "transport_error")
		e.logger.Warn(e.tag+".http_failed",
			zap.String("url", req.URL.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody+1))
	elapsed := time.Since(start)
	metrics.ObserveDuration(metrics.HTTPRequestDuration, start, e.tag, req.Method)
	if err == nil && int64(len(body)) > e.maxBody {
		err = fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, e.maxBody)
	}
	if err != nil {
		metrics.IncHTTPRequest(e.tag, req.Method, "transport_error")
		e.logger.Warn(e.tag+".read_failed",
			zap.String("url", req.URL.String()),
			zap.Error(err))
		return nil, fmt.Errorf("read %s body: %w", req.URL.Path, err)
	}

	metrics.IncHTTPRequest(e.tag, req.Method, strconv.Itoa(resp.StatusCode))
	out := &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}

	if !out.OK() {
		e.logger.Info(e.tag+".http_rejected",
			zap.String("url", req.URL.String()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", elapsed))
		return out, nil
	}

	e.logger.Debug(e.tag+".http_success",
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", elapsed))
	return out, nil
}
