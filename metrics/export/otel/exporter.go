package otel

import (
	"context"
	"errors"
	"fmt"

	goCred "github.com/MrEthical07/goCred"
	"github.com/MrEthical07/goCred/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned when no meter is supplied.
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goCred.MetricsSnapshot
	Status() goCred.Status
	AuditDropped() uint64
	StoreWriteFailures() uint64
}

type observedCounter struct {
	id         goCred.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      goCred.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter observes an engine's lifecycle and counters through one registered callback.
// Lifecycle instruments carry a "kind" attribute; the state gauge also carries "state".
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration

	state         metric.Int64ObservableGauge
	authenticated metric.Int64ObservableGauge
	ttl           metric.Float64ObservableGauge
	busy          metric.Int64ObservableGauge

	counters     []observedCounter
	histograms   []observedHistogram
	bucketAttrs  []metric.ObserveOption
	auditDropped metric.Int64ObservableCounter
	storeFailed  metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read engine's status and snapshot.
func NewOTelExporter(meter metric.Meter, engine *goCred.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource is NewOTelExporter over any value exposing the engine's readers.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable
	var err error

	if e.state, err = meter.Int64ObservableGauge(internaldefs.StateGauge,
		metric.WithDescription(internaldefs.StateHelp)); err != nil {
		return nil, fmt.Errorf("create state gauge: %w", err)
	}
	if e.authenticated, err = meter.Int64ObservableGauge(internaldefs.AuthenticatedGauge,
		metric.WithDescription(internaldefs.AuthenticatedHelp)); err != nil {
		return nil, fmt.Errorf("create authenticated gauge: %w", err)
	}
	if e.ttl, err = meter.Float64ObservableGauge(internaldefs.TTLGauge,
		metric.WithDescription(internaldefs.TTLHelp), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create ttl gauge: %w", err)
	}
	if e.busy, err = meter.Int64ObservableGauge(internaldefs.BusyGauge,
		metric.WithDescription(internaldefs.BusyHelp)); err != nil {
		return nil, fmt.Errorf("create busy gauge: %w", err)
	}
	observables = append(observables, e.state, e.authenticated, e.ttl, e.busy)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, le := range internaldefs.HistogramBounds {
		e.bucketAttrs = append(e.bucketAttrs, metric.WithAttributes(attribute.String("le", le)))
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription("Cumulative histogram bucket count, labelled by upper bound."))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", def.Name, err)
		}
		e.histograms = append(e.histograms, observedHistogram{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	if e.auditDropped, err = meter.Int64ObservableCounter("gocred_audit_dropped_total",
		metric.WithDescription("Dropped audit events due to queue backpressure.")); err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	if e.storeFailed, err = meter.Int64ObservableCounter("gocred_store_write_failures_total",
		metric.WithDescription("Token store writes that failed or were dropped.")); err != nil {
		return nil, fmt.Errorf("create store failure counter: %w", err)
	}
	observables = append(observables, e.auditDropped, e.storeFailed)

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	status := e.source.Status()
	kind := attribute.String("kind", internaldefs.KindLabel(status))

	for _, st := range internaldefs.States {
		o.ObserveInt64(e.state, internaldefs.Bool01(status.State == st),
			metric.WithAttributes(kind, attribute.String("state", st.String())))
	}
	withKind := metric.WithAttributes(kind)
	o.ObserveInt64(e.authenticated, internaldefs.Bool01(status.Authenticated), withKind)
	o.ObserveFloat64(e.ttl, status.TTL.Seconds(), withKind)
	o.ObserveInt64(e.busy, internaldefs.Bool01(status.Busy))

	snapshot := e.source.MetricsSnapshot()
	if len(snapshot.Counters) > 0 {
		for _, c := range e.counters {
			o.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
	}
	for _, h := range e.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, attrs := range e.bucketAttrs {
			o.ObserveInt64(h.buckets, int64(cumulative[i]), attrs)
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}

	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	o.ObserveInt64(e.storeFailed, int64(e.source.StoreWriteFailures()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
