package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avalanche-app/rockclient/internal/events"
	"github.com/avalanche-app/rockclient/internal/httpclient"
	"github.com/avalanche-app/rockclient/internal/secrets"
	"github.com/avalanche-app/rockclient/internal/store"
	"github.com/avalanche-app/rockclient/pkg/model"
	"github.com/avalanche-app/rockclient/pkg/observable"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) string { return string(s) }

type reply struct {
	status int
	body   string
	ttl    string
}

// contentServer serves canned replies per path and counts hits.
type contentServer struct {
	*httptest.Server
	mu       sync.Mutex
	replies  map[string]reply
	hits     map[string]int
	last     *http.Request
	lastBody string
}

func newContentServer(t *testing.T) *contentServer {
	t.Helper()
	cs := &contentServer{replies: map[string]reply{}, hits: map[string]int{}}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.hits[r.URL.Path]++
		cs.last = r
		cs.lastBody = string(body)
		rep, ok := cs.replies[r.URL.Path]
		cs.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if rep.ttl != "" {
			w.Header().Set("TTL", rep.ttl)
		}
		w.WriteHeader(rep.status)
		_, _ = io.WriteString(w, rep.body)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *contentServer) set(path string, r reply) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.replies[path] = r
}

func (cs *contentServer) hitCount(path string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.hits[path]
}

func (cs *contentServer) lastRequest() (*http.Request, string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.last, cs.lastBody
}

type fixture struct {
	server *contentServer
	store  *store.SQLiteStore
	bus    *events.Bus
	now    time.Time
	orch   *Orchestrator
	fetch  *Fetcher
}

var dbSeq int64

func newFixture(t *testing.T, token string, legacy bool) *fixture {
	t.Helper()
	db, err := store.OpenSQLite(fmt.Sprintf("file:resource_%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1)))
	require.NoError(t, err)
	st := store.NewSQLite(db, nil)
	require.NoError(t, st.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		server: newContentServer(t),
		store:  st,
		bus:    events.NewBus(),
		now:    time.Now().UTC().Truncate(time.Second),
	}
	clock := func() time.Time { return f.now }
	f.fetch = NewFetcher(FetcherOptions{
		Logger:              zap.NewNop(),
		Executor:            httpclient.New(zap.NewNop(), nil, f.server.Client(), "content"),
		BaseURL:             f.server.URL,
		Tokens:              staticToken(token),
		Client:              secrets.NewStaticResolver("app-id", "app-secret"),
		UserAgent:           "Avalanche/1.0 (Pixel; Android 14  - dev)",
		LegacyClientHeaders: legacy,
		Store:               st,
		Events:              f.bus,
		Now:                 clock,
	})
	f.orch = NewOrchestrator(st, f.fetch, zap.NewNop(), clock)
	return f
}

func (f *fixture) seed(t *testing.T, url, payload string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), &model.CachedResource{URL: url, Payload: payload, ExpiresAt: expiresAt}))
}

// record collects every value written to holder.
func record[T any](holder *observable.Resource[T]) func() []T {
	var mu sync.Mutex
	var got []T
	holder.Subscribe(func(v T) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, v)
	})
	return func() []T {
		mu.Lock()
		defer mu.Unlock()
		return append([]T(nil), got...)
	}
}

type campus struct {
	Name string `json:"name"`
}

// ─── Download ─────────────────────────────────────────────────────────────────

func TestDownload_StoresWithTTL(t *testing.T) {
	f := newFixture(t, "bearer-1", true)
	f.server.set("/groups", reply{status: 200, body: `[1,2]`, ttl: "120"})
	ctx := context.Background()

	r, ok := f.fetch.Download(ctx, "/groups")
	require.True(t, ok)
	assert.Equal(t, `[1,2]`, r.Payload)
	assert.Equal(t, f.now.Add(120*time.Second), r.ExpiresAt)

	got, ok := f.store.Get(ctx, "/groups")
	require.True(t, ok)
	assert.Equal(t, `[1,2]`, got.Payload)
	assert.True(t, r.ExpiresAt.Equal(got.ExpiresAt))

	req, _ := f.server.lastRequest()
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
	assert.Equal(t, "Avalanche/1.0 (Pixel; Android 14  - dev)", req.Header.Get("User-Agent"))
	assert.Equal(t, "Bearer bearer-1", req.Header.Get("Authorization"))
	assert.Equal(t, []string{"app-id", "app-secret"}, req.Header.Values("client_id"))
}

func TestDownload_TTLParsing(t *testing.T) {
	for _, ttl := range []string{"", "soon", "1.5", "2147483648", "9300000000"} {
		t.Run("ttl="+ttl, func(t *testing.T) {
			f := newFixture(t, "", true)
			f.server.set("/x", reply{status: 200, body: "x", ttl: ttl})
			r, ok := f.fetch.Download(context.Background(), "/x")
			require.True(t, ok)
			assert.Equal(t, f.now, r.ExpiresAt)
		})
	}
}

func TestParseTTL(t *testing.T) {
	assert.Equal(t, 60*time.Second, parseTTL(" 60 "))
	assert.Equal(t, time.Duration(2147483647)*time.Second, parseTTL("2147483647"))
	assert.Equal(t, time.Duration(0), parseTTL("9300000000"))
	assert.Equal(t, -5*time.Second, parseTTL("-5"))
}

func TestDownload_Absent(t *testing.T) {
	tests := []struct {
		name string
		rep  reply
	}{
		{"server error", reply{status: 500, body: "boom"}},
		{"not found", reply{status: 404, body: "{}"}},
		{"empty body", reply{status: 200, body: ""}},
		{"blank body", reply{status: 200, body: " \n\t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "", true)
			f.server.set("/x", tt.rep)
			_, ok := f.fetch.Download(context.Background(), "/x")
			assert.False(t, ok)
			_, ok = f.store.Get(context.Background(), "/x")
			assert.False(t, ok, "nothing stored")
		})
	}
}

func TestDownload_TransportError(t *testing.T) {
	f := newFixture(t, "", true)
	f.server.Close()
	_, ok := f.fetch.Download(context.Background(), "/x")
	assert.False(t, ok)
}

func TestDownload_AnonymousOmitsCredentials(t *testing.T) {
	f := newFixture(t, "", true)
	f.server.set("/x", reply{status: 200, body: "x"})
	_, ok := f.fetch.Download(context.Background(), "/x")
	require.True(t, ok)

	req, _ := f.server.lastRequest()
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Empty(t, req.Header.Values("client_id"))
}

func TestDownload_ModernClientHeaders(t *testing.T) {
	f := newFixture(t, "tok", false)
	f.server.set("/x", reply{status: 200, body: "x"})
	_, ok := f.fetch.Download(context.Background(), "/x")
	require.True(t, ok)

	req, _ := f.server.lastRequest()
	assert.Equal(t, []string{"app-id"}, req.Header.Values("client_id"))
	assert.Equal(t, []string{"app-secret"}, req.Header.Values("client_secret"))
}

func TestDownload_PublishesResourceCached(t *testing.T) {
	f := newFixture(t, "", true)
	f.server.set("/x", reply{status: 200, body: "hello", ttl: "5"})

	got := make(chan events.ResourceCached, 1)
	f.bus.Subscribe(events.TypeResourceCached, func(ev events.Event) {
		got <- ev.(events.ResourceCached)
	})

	_, ok := f.fetch.Download(context.Background(), "/x")
	require.True(t, ok)

	select {
	case ev := <-got:
		assert.Equal(t, "/x", ev.URL)
		assert.Equal(t, 5, ev.Size)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

// ─── Fetch ────────────────────────────────────────────────────────────────────

func TestFetch_CampusesScenario(t *testing.T) {
	f := newFixture(t, "", true)
	f.server.set("/campuses", reply{status: 200, body: `{"name":"X"}`, ttl: "300"})
	ctx := context.Background()

	holder := observable.New[campus]()
	Fetch(ctx, f.orch, holder, "/campuses/", false)
	f.orch.Wait()

	v, ok := holder.Get()
	require.True(t, ok)
	assert.Equal(t, campus{Name: "X"}, v)
	assert.Equal(t, 1, f.server.hitCount("/campuses"))

	cached, ok := f.store.Get(ctx, "/campuses")
	require.True(t, ok)
	assert.True(t, f.now.Add(300*time.Second).Equal(cached.ExpiresAt))

	// a second fetch inside the TTL is served from the store
	Fetch(ctx, f.orch, observable.New[campus](), "/campuses", false)
	f.orch.Wait()
	assert.Equal(t, 1, f.server.hitCount("/campuses"))
}

func TestFetch_StaleThenFresh(t *testing.T) {
	f := newFixture(t, "", true)
	f.seed(t, "/news", `"old"`, f.now.Add(-time.Minute))
	f.server.set("/news", reply{status: 200, body: `"new"`, ttl: "60"})

	holder := observable.New[string]()
	values := record(holder)

	Fetch(context.Background(), f.orch, holder, "/news", false)
	f.orch.Wait()

	assert.Equal(t, []string{`"old"`, `"new"`}, values())
	cached, _ := f.store.Get(context.Background(), "/news")
	assert.Equal(t, `"new"`, cached.Payload)
}

func TestFetch_StaleButIdenticalEmitsOnce(t *testing.T) {
	f := newFixture(t, "", true)
	f.seed(t, "/news", `{"name":"same"}`, f.now.Add(-time.Second))
	f.server.set("/news", reply{status: 200, body: `{"name":"same"}`, ttl: "60"})

	holder := observable.New[campus]()
	values := record(holder)

	Fetch(context.Background(), f.orch, holder, "/news", false)
	f.orch.Wait()

	assert.Equal(t, []campus{{Name: "same"}}, values())
	assert.Equal(t, 1, f.server.hitCount("/news"))
}

func TestFetch_StaleRevalidationFailureKeepsCached(t *testing.T) {
	f := newFixture(t, "", true)
	f.seed(t, "/news", "cached", f.now.Add(-time.Second))
	f.server.set("/news", reply{status: 503})

	holder := observable.New[string]()
	values := record(holder)
	Fetch(context.Background(), f.orch, holder, "/news", false)
	f.orch.Wait()

	assert.Equal(t, []string{"cached"}, values())
}

func TestFetch_FreshHitSkipsNetwork(t *testing.T) {
	f := newFixture(t, "", true)
	f.seed(t, "/news", "cached", f.now.Add(time.Hour))

	holder := observable.New[string]()
	Fetch(context.Background(), f.orch, holder, "/news", false)
	f.orch.Wait()

	v, _ := holder.Get()
	assert.Equal(t, "cached", v)
	assert.Zero(t, f.server.hitCount("/news"))
}

func TestFetch_ForcedNeverEmitsCached(t *testing.T) {
	f := newFixture(t, "", true)
	f.seed(t, "/news", "cached", f.now.Add(time.Hour))
	f.server.set("/news", reply{status: 200, body: "live"})

	holder := observable.New[string]()
	values := record(holder)
	Fetch(context.Background(), f.orch, holder, "/news", true)
	f.orch.Wait()

	assert.Equal(t, []string{"live"}, values())
}

func TestFetch_MissWithFailureLeavesHolder(t *testing.T) {
	f := newFixture(t, "", true)
	f.server.set("/news", reply{status: 500})

	holder := observable.New[string]()
	holder.Set("previous")
	Fetch(context.Background(), f.orch, holder, "/news", false)

	v, ok := holder.Get()
	assert.True(t, ok)
	assert.Equal(t, "previous", v)
}

func TestFetch_UndecodableCacheIsAMiss(t *testing.T) {
	f := newFixture(t, "", true)
	f.seed(t, "/c", "not json", f.now.Add(time.Hour))
	f.server.set("/c", reply{status: 200, body: `{"name":"Y"}`})

	holder := observable.New[campus]()
	values := record(holder)
	Fetch(context.Background(), f.orch, holder, "/c", false)

	assert.Equal(t, []campus{{Name: "Y"}}, values())
	assert.Equal(t, 1, f.server.hitCount("/c"))
}

func TestFetch_RevalidationOutlivesCaller(t *testing.T) {
	f := newFixture(t, "", true)
	f.seed(t, "/news", "old", f.now.Add(-time.Second))
	f.server.set("/news", reply{status: 200, body: "new"})

	ctx, cancel := context.WithCancel(context.Background())
	holder := observable.New[string]()
	values := record(holder)
	Fetch(ctx, f.orch, holder, "/news", false)
	cancel()
	f.orch.Wait()

	assert.Equal(t, []string{"old", "new"}, values())
}

func TestFetch_RawJSON(t *testing.T) {
	f := newFixture(t, "", true)
	f.server.set("/raw", reply{status: 200, body: `{"a":1}`})

	holder := observable.New[json.RawMessage]()
	Fetch(context.Background(), f.orch, holder, "/raw", false)

	v, ok := holder.Get()
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(v))
}

func TestOrchestrator_ClearCache(t *testing.T) {
	f := newFixture(t, "", true)
	ctx := context.Background()
	f.seed(t, "/a", "a", f.now.Add(time.Hour))
	f.seed(t, "/b", "b", f.now.Add(time.Hour))

	require.NoError(t, f.orch.ClearCache(ctx))

	for _, u := range []string{"/a", "/b"} {
		_, ok := f.store.Get(ctx, u)
		assert.False(t, ok, u)
	}
	assert.NoError(t, f.orch.EnsureSchema(ctx))
	assert.NoError(t, f.orch.HealthCheck(ctx))
}

// ─── Upload ───────────────────────────────────────────────────────────────────

func TestUpload_PublishesResponse(t *testing.T) {
	f := newFixture(t, "tok", true)
	f.server.set("/prayer", reply{status: 200, body: `{"name":"ok"}`})

	holder := observable.New[campus]()
	Upload(context.Background(), f.orch, holder, "/prayer", map[string]string{"text": "hi"})

	v, ok := holder.Get()
	require.True(t, ok)
	assert.Equal(t, "ok", v.Name)

	req, body := f.server.lastRequest()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))
	assert.JSONEq(t, `{"text":"hi"}`, body)

	_, cached := f.store.Get(context.Background(), "/prayer")
	assert.False(t, cached, "uploads are not cached")
}

func TestUpload_FailureLeavesHolder(t *testing.T) {
	for _, rep := range []reply{{status: 400, body: `{"name":"bad"}`}, {status: 200, body: "  "}} {
		f := newFixture(t, "", true)
		f.server.set("/prayer", rep)

		holder := observable.New[campus]()
		Upload(context.Background(), f.orch, holder, "/prayer", nil)
		_, ok := holder.Get()
		assert.False(t, ok)
	}
}

// ─── Concurrency ──────────────────────────────────────────────────────────────

func TestFetch_ConcurrentCallers(t *testing.T) {
	f := newFixture(t, "", true)
	f.server.set("/n", reply{status: 200, body: `"v"`, ttl: "60"})

	var emitted int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			holder := observable.New[string]()
			holder.Subscribe(func(string) { atomic.AddInt32(&emitted, 1) })
			Fetch(context.Background(), f.orch, holder, "/n", false)
		}()
	}
	wg.Wait()
	f.orch.Wait()

	assert.Equal(t, int32(8), atomic.LoadInt32(&emitted))
	cached, ok := f.store.Get(context.Background(), "/n")
	require.True(t, ok)
	assert.Equal(t, `"v"`, cached.Payload)
}
