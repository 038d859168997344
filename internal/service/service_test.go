package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-cache-proxy/internal/audit"
	"github.com/kjstillabower/weather-cache-proxy/internal/cache"
	"github.com/kjstillabower/weather-cache-proxy/internal/client"
	"github.com/kjstillabower/weather-cache-proxy/internal/models"
	"github.com/kjstillabower/weather-cache-proxy/internal/observability"
)

type mockClient struct {
	calls   atomic.Int32
	payload json.RawMessage
	err     error
}

func (m *mockClient) GetCurrentWeather(ctx context.Context, city string) (json.RawMessage, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.payload, nil
}

type failingAuditStore struct{ err error }

func (s failingAuditStore) Put(context.Context, models.AuditRecord) error { return s.err }
func (s failingAuditStore) Name() string { return "failing" }

type failingObjectStore struct {
	*cache.MemoryObjectStore
	listErr error
	putErr  error
}

func (s *failingObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.MemoryObjectStore.List(ctx, prefix)
}

func (s *failingObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.MemoryObjectStore.Put(ctx, key, body, contentType)
}

type fixture struct {
	objects *cache.MemoryObjectStore
	audits  *audit.MemoryStore
	svc     *WeatherService
}

func newFixture(c client.WeatherClient, expiry time.Duration) *fixture {
	objects := cache.NewMemoryObjectStore("weather")
	audits := audit.NewMemoryStore()
	return &fixture{
		objects: objects,
		audits:  audits,
		svc:     NewWeatherService(c, cache.NewReader(objects, expiry), cache.NewWriter(objects), audit.NewWriter(audits)),
	}
}

func (f *fixture) seed(t *testing.T, city string, at time.Time, body string) {
	t.Helper()
	if err := f.objects.Put(context.Background(), cache.NewKey(city, at), []byte(body), "application/json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// TestGetWeather_MissFetchesWritesAndAudits covers a city with no cache entries:
// one upstream call, one object, one audit record.
func TestGetWeather_MissFetchesWritesAndAudits(t *testing.T) {
	mc := &mockClient{payload: json.RawMessage(`{"temp":280.5}`)}
	f := newFixture(mc, time.Hour)

	snap, err := f.svc.GetWeather(context.Background(), "london")
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if string(snap.Payload) != `{"temp":280.5}` || snap.Cached {
		t.Errorf("snapshot = %+v", snap)
	}
	if mc.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", mc.calls.Load())
	}
	if f.objects.Len() != 1 {
		t.Errorf("objects = %d, want 1", f.objects.Len())
	}
	if n := len(f.audits.Records()); n != 1 {
		t.Errorf("audit records = %d, want 1", n)
	}
}

// TestGetWeather_FreshHitSkipsUpstream covers a city with a fresh entry: no upstream
// call, no writes, and the stored bytes returned unchanged.
func TestGetWeather_FreshHitSkipsUpstream(t *testing.T) {
	mc := &mockClient{payload: json.RawMessage(`{"fresh":false}`)}
	f := newFixture(mc, time.Hour)
	stored := `{"temp": 281.0, "weather":"rain"}`
	f.seed(t, "london", time.Now().Add(-5*time.Minute), stored)

	snap, err := f.svc.GetWeather(context.Background(), "london")
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if string(snap.Payload) != stored {
		t.Errorf("payload = %s, want %s", snap.Payload, stored)
	}
	if !snap.Cached {
		t.Error("snapshot should be marked cached")
	}
	if mc.calls.Load() != 0 {
		t.Errorf("upstream calls = %d, want 0", mc.calls.Load())
	}
	if f.objects.Len() != 1 || len(f.audits.Records()) != 0 {
		t.Errorf("writes on hit: objects=%d audits=%d", f.objects.Len(), len(f.audits.Records()))
	}
}

// TestGetWeather_StaleIsFullMiss covers a city whose only entries are past the window.
func TestGetWeather_StaleIsFullMiss(t *testing.T) {
	mc := &mockClient{payload: json.RawMessage(`{"new":true}`)}
	f := newFixture(mc, time.Hour)
	f.seed(t, "london", time.Now().Add(-3*time.Hour), `{"old":1}`)
	f.seed(t, "london", time.Now().Add(-2*time.Hour), `{"old":2}`)

	snap, err := f.svc.GetWeather(context.Background(), "london")
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if string(snap.Payload) != `{"new":true}` {
		t.Errorf("payload = %s", snap.Payload)
	}
	if mc.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", mc.calls.Load())
	}
	if f.objects.Len() != 3 {
		t.Errorf("objects = %d, want 3 (stale entries are never deleted)", f.objects.Len())
	}
	if n := len(f.audits.Records()); n != 1 {
		t.Errorf("audit records = %d, want 1", n)
	}
}

func TestGetWeather_NewestEntryWins(t *testing.T) {
	mc := &mockClient{}
	f := newFixture(mc, time.Hour)
	now := time.Now()
	for i := 10; i >= 1; i-- {
		f.seed(t, "paris", now.Add(-time.Duration(i)*time.Minute), fmt.Sprintf(`{"m":%d}`, i))
	}

	snap, err := f.svc.GetWeather(context.Background(), "paris")
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if string(snap.Payload) != `{"m":1}` {
		t.Errorf("payload = %s, want newest", snap.Payload)
	}
}

// TestGetWeather_Upstream404 uses a real client against an httptest upstream.
func TestGetWeather_Upstream404(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"cod":"404","message":"city not found"}`))
	}))
	defer upstream.Close()
	c, err := client.NewOpenWeatherClient("key", upstream.URL, 0)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	f := newFixture(c, time.Hour)

	_, err = f.svc.GetWeather(context.Background(), "atlantis")
	var ue *client.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("GetWeather() error = %v, want *client.UpstreamError", err)
	}
	if ue.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", ue.StatusCode)
	}
	if f.objects.Len() != 0 || len(f.audits.Records()) != 0 {
		t.Errorf("writes after upstream failure: objects=%d audits=%d", f.objects.Len(), len(f.audits.Records()))
	}
	if got := CategorizeError(err); got != "upstream" {
		t.Errorf("CategorizeError() = %q, want upstream", got)
	}
}

// TestGetWeather_EndToEnd runs london through an httptest upstream and checks the
// response, the stored object and the audit record.
func TestGetWeather_EndToEnd(t *testing.T) {
	queries := make(chan string, 4)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp":280.5,"weather":"clear"}`))
	}))
	defer upstream.Close()
	c, err := client.NewOpenWeatherClient("key", upstream.URL, 0)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	f := newFixture(c, time.Hour)

	snap, err := f.svc.GetWeather(context.Background(), "london")
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if q := <-queries; q != "london" {
		t.Errorf("upstream q = %q", q)
	}
	if string(snap.Payload) != `{"temp":280.5,"weather":"clear"}` {
		t.Errorf("payload = %s", snap.Payload)
	}

	keys, _ := f.objects.List(context.Background(), "london_")
	if len(keys) != 1 {
		t.Fatalf("stored keys = %v, want one", keys)
	}
	if _, err := cache.ParseKeyTime(keys[0]); err != nil {
		t.Errorf("stored key %q is not timestamped: %v", keys[0], err)
	}
	body, _ := f.objects.Get(context.Background(), keys[0])
	if string(body) != `{"temp":280.5,"weather":"clear"}` {
		t.Errorf("stored body = %s", body)
	}

	recs := f.audits.Records()
	if len(recs) != 1 {
		t.Fatalf("audit records = %d, want 1", len(recs))
	}
	if recs[0].City != "london" || recs[0].S3URL != f.objects.URL(keys[0]) {
		t.Errorf("audit record = %+v", recs[0])
	}

	// Second request is served from cache.
	snap, err = f.svc.GetWeather(context.Background(), "london")
	if err != nil || !snap.Cached {
		t.Errorf("second GetWeather() = %+v, %v; want cached", snap, err)
	}
}

func TestGetWeather_MissingAPIKey(t *testing.T) {
	f := newFixture(&mockClient{err: client.ErrMissingAPIKey}, time.Hour)
	_, err := f.svc.GetWeather(context.Background(), "london")
	if !errors.Is(err, ErrConfigMissing) {
		t.Fatalf("GetWeather() error = %v, want ErrConfigMissing", err)
	}
	if got := CategorizeError(err); got != "config" {
		t.Errorf("CategorizeError() = %q, want config", got)
	}
}

func TestGetWeather_CacheReadError(t *testing.T) {
	mc := &mockClient{payload: json.RawMessage(`{}`)}
	store := &failingObjectStore{MemoryObjectStore: cache.NewMemoryObjectStore("b"), listErr: errors.New("access denied")}
	svc := NewWeatherService(mc, cache.NewReader(store, time.Hour), cache.NewWriter(store), audit.NewWriter(audit.NewMemoryStore()))

	_, err := svc.GetWeather(context.Background(), "london")
	var se *StorageError
	if !errors.As(err, &se) || se.Op != OpCacheRead {
		t.Fatalf("GetWeather() error = %v, want cache read StorageError", err)
	}
	if mc.calls.Load() != 0 {
		t.Error("upstream must not be called when the cache read fails")
	}
}

func TestGetWeather_CacheWriteError(t *testing.T) {
	store := &failingObjectStore{MemoryObjectStore: cache.NewMemoryObjectStore("b"), putErr: errors.New("bucket missing")}
	audits := audit.NewMemoryStore()
	svc := NewWeatherService(&mockClient{payload: json.RawMessage(`{}`)}, cache.NewReader(store, time.Hour), cache.NewWriter(store), audit.NewWriter(audits))

	_, err := svc.GetWeather(context.Background(), "london")
	var se *StorageError
	if !errors.As(err, &se) || se.Op != OpCacheWrite {
		t.Fatalf("GetWeather() error = %v, want cache write StorageError", err)
	}
	if !strings.Contains(se.Err.Error(), "bucket missing") {
		t.Errorf("StorageError.Err = %v", se.Err)
	}
	if len(audits.Records()) != 0 {
		t.Error("no audit record expected after a failed cache write")
	}
}

// TestGetWeather_AuditErrorLeavesObject verifies the object stays in place and a
// warning names it when the audit write fails.
func TestGetWeather_AuditErrorLeavesObject(t *testing.T) {
	objects := cache.NewMemoryObjectStore("b")
	svc := NewWeatherService(&mockClient{payload: json.RawMessage(`{}`)},
		cache.NewReader(objects, time.Hour), cache.NewWriter(objects),
		audit.NewWriter(failingAuditStore{err: errors.New("table not found")}))

	core, logs := observer.New(zap.WarnLevel)
	ctx := observability.ContextWithLogger(context.Background(), zap.New(core))

	_, err := svc.GetWeather(ctx, "london")
	var se *StorageError
	if !errors.As(err, &se) || se.Op != OpAuditWrite {
		t.Fatalf("GetWeather() error = %v, want audit write StorageError", err)
	}
	if objects.Len() != 1 {
		t.Errorf("objects = %d, want the orphaned object kept", objects.Len())
	}
	entries := logs.FilterField(zap.String("city", "london")).All()
	if len(entries) != 1 {
		t.Fatalf("warn logs = %d, want 1", len(entries))
	}
	if _, ok := entries[0].ContextMap()["s3_url"]; !ok {
		t.Error("warning should carry the orphaned object's URL")
	}
}

// TestGetWeather_ConcurrentMissesAllFetch verifies concurrent misses are not
// coalesced: each request goes upstream and writes.
func TestGetWeather_ConcurrentMissesAllFetch(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	const n = 3
	started.Add(n)
	bc := &blockingClient{release: release, started: &started}
	f := newFixture(bc, time.Hour)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GetWeather(context.Background(), "oslo")
			errs <- err
		}()
	}
	started.Wait()
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("GetWeather() error = %v", err)
		}
	}
	if bc.calls.Load() != n {
		t.Errorf("upstream calls = %d, want %d", bc.calls.Load(), n)
	}
	if len(f.audits.Records()) != n {
		t.Errorf("audit records = %d, want %d", len(f.audits.Records()), n)
	}
}

type blockingClient struct {
	calls   atomic.Int32
	release chan struct{}
	started *sync.WaitGroup
}

func (b *blockingClient) GetCurrentWeather(ctx context.Context, city string) (json.RawMessage, error) {
	b.calls.Add(1)
	b.started.Done()
	<-b.release
	return json.RawMessage(`{"city":"oslo"}`), nil
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "unknown"},
		{errors.New("boom"), "unknown"},
		{fmt.Errorf("x: %w", ErrConfigMissing), "config"},
		{&client.UpstreamError{StatusCode: 500}, "upstream"},
		{&StorageError{Op: OpCacheRead, Err: errors.New("x")}, "cache_read"},
		{&StorageError{Op: OpCacheWrite, Err: errors.New("x")}, "cache_write"},
		{&StorageError{Op: OpAuditWrite, Err: errors.New("x")}, "audit_write"},
	}
	for _, tt := range tests {
		if got := CategorizeError(tt.err); got != tt.want {
			t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
