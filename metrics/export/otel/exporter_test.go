package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	goCred "github.com/MrEthical07/goCred"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu            sync.RWMutex
	snapshot      goCred.MetricsSnapshot
	status        goCred.Status
	dropped       uint64
	storeFailures uint64
}

func (f *fakeSource) MetricsSnapshot() goCred.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goCred.MetricsSnapshot{
		Counters:   make(map[goCred.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goCred.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) Status() goCred.Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func (f *fakeSource) StoreWriteFailures() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.storeFailures
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	return rm
}

func matches(set attribute.Set, attrs map[string]string) bool {
	if set.Len() != len(attrs) {
		return false
	}
	for k, want := range attrs {
		got, ok := set.Value(attribute.Key(k))
		if !ok || got.AsString() != want {
			return false
		}
	}
	return true
}

// findValue returns the data point of name whose attributes equal attrs.
func findValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs map[string]string) float64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					if matches(dp.Attributes, attrs) {
						return float64(dp.Value)
					}
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					if matches(dp.Attributes, attrs) {
						return float64(dp.Value)
					}
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					if matches(dp.Attributes, attrs) {
						return dp.Value
					}
				}
			default:
				t.Fatalf("metric %s has unexpected data type %T", name, m.Data)
			}
			t.Fatalf("metric %s has no data point with attributes %v", name, attrs)
		}
	}
	t.Fatalf("metric %s not collected", name)
	return 0
}

func TestExporterObservesLifecycle(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		status: goCred.Status{
			State:         goCred.StateReady,
			Kind:          goCred.KindServiceAccountAccess,
			Bound:         true,
			Authenticated: true,
			TTL:           3480 * time.Second,
		},
	}

	exp, err := NewOTelExporterFromSource(provider.Meter("gocred-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	rm := collect(t, reader)
	kind := map[string]string{"kind": "service_account_access"}
	if got := findValue(t, rm, "gocred_state", map[string]string{"kind": "service_account_access", "state": "ready"}); got != 1 {
		t.Fatalf("expected ready state 1, got %v", got)
	}
	if got := findValue(t, rm, "gocred_state", map[string]string{"kind": "service_account_access", "state": "error"}); got != 0 {
		t.Fatalf("expected error state 0, got %v", got)
	}
	if got := findValue(t, rm, "gocred_authenticated", kind); got != 1 {
		t.Fatalf("expected authenticated 1, got %v", got)
	}
	if got := findValue(t, rm, "gocred_token_ttl_seconds", kind); got != 3480 {
		t.Fatalf("expected ttl 3480s, got %v", got)
	}

	src.mu.Lock()
	src.status = goCred.Status{}
	src.mu.Unlock()
	rm = collect(t, reader)
	if got := findValue(t, rm, "gocred_state", map[string]string{"kind": "unbound", "state": "uninitialized"}); got != 1 {
		t.Fatalf("expected unbound engine in uninitialized, got %v", got)
	}
}

func TestExporterCollectsCountersAndBuckets(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		snapshot: goCred.MetricsSnapshot{
			Counters: map[goCred.MetricID]uint64{
				goCred.MetricAuthSuccess: 3,
			},
			Histograms: map[goCred.MetricID][]uint64{
				goCred.MetricRequestLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped:       1,
		storeFailures: 4,
	}

	exp, err := NewOTelExporterFromSource(provider.Meter("gocred-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	rm := collect(t, reader)
	none := map[string]string{}
	if got := findValue(t, rm, "gocred_auth_success_total", none); got != 3 {
		t.Fatalf("expected auth success 3, got %v", got)
	}
	if got := findValue(t, rm, "gocred_request_latency_seconds_bucket", map[string]string{"le": "0.5"}); got != 4 {
		t.Fatalf("expected cumulative bucket 4, got %v", got)
	}
	if got := findValue(t, rm, "gocred_request_latency_seconds_bucket", map[string]string{"le": "+Inf"}); got != 8 {
		t.Fatalf("expected +Inf bucket 8, got %v", got)
	}
	if got := findValue(t, rm, "gocred_request_latency_seconds_count", none); got != 8 {
		t.Fatalf("expected histogram count 8, got %v", got)
	}
	if got := findValue(t, rm, "gocred_audit_dropped_total", none); got != 1 {
		t.Fatalf("expected audit dropped 1, got %v", got)
	}
	if got := findValue(t, rm, "gocred_store_write_failures_total", none); got != 4 {
		t.Fatalf("expected store failures 4, got %v", got)
	}
}

func TestExporterFromEngine(t *testing.T) {
	reader, provider := newMeter()
	engine, err := goCred.New().WithAPIKey("test-key").WithMetricsEnabled(true).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()
	if err := engine.InitializeApp(goCred.LegacyToken("db-secret")); err != nil {
		t.Fatalf("InitializeApp: %v", err)
	}

	exp, err := NewOTelExporter(provider.Meter("gocred-test"), engine)
	if err != nil {
		t.Fatalf("NewOTelExporter failed: %v", err)
	}
	defer exp.Close()

	rm := collect(t, reader)
	if got := findValue(t, rm, "gocred_authenticated", map[string]string{"kind": "legacy_token"}); got != 1 {
		t.Fatalf("expected legacy token authenticated, got %v", got)
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	_, provider := newMeter()
	if _, err := NewOTelExporterFromSource(provider.Meter("gocred-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		snapshot: goCred.MetricsSnapshot{
			Counters: map[goCred.MetricID]uint64{goCred.MetricAuthAttempt: 1},
		},
	}

	exp, err := NewOTelExporterFromSource(provider.Meter("gocred-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goCred.MetricAuthAttempt] = v
			src.status.State = goCred.State(v % 8)
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
