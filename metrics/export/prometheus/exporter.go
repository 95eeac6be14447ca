package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	goCred "github.com/MrEthical07/goCred"
	"github.com/MrEthical07/goCred/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() goCred.MetricsSnapshot
	Status() goCred.Status
	AuditDropped() uint64
	StoreWriteFailures() uint64
}

// PrometheusExporter renders an engine's lifecycle and counters in Prometheus text
// exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates a Prometheus exporter that reads from the given [goCred.Engine].
func NewPrometheusExporter(engine *goCred.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter from any value exposing the
// engine's snapshot and status readers.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current exposition. It is empty for an unbound engine with metrics
// disabled and nothing dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	status := p.source.Status()
	dropped := p.source.AuditDropped()
	storeFailures := p.source.StoreWriteFailures()
	if !status.Bound && len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 &&
		dropped == 0 && storeFailures == 0 {
		return ""
	}

	w := &textWriter{}
	w.b.Grow(8192)

	kind := label{"kind", internaldefs.KindLabel(status)}

	w.family(internaldefs.StateGauge, internaldefs.StateHelp, "gauge")
	for _, st := range internaldefs.States {
		w.sample(internaldefs.StateGauge, internaldefs.Bool01(status.State == st), kind, label{"state", st.String()})
	}
	w.family(internaldefs.AuthenticatedGauge, internaldefs.AuthenticatedHelp, "gauge")
	w.sample(internaldefs.AuthenticatedGauge, internaldefs.Bool01(status.Authenticated), kind)
	w.family(internaldefs.TTLGauge, internaldefs.TTLHelp, "gauge")
	w.sampleFloat(internaldefs.TTLGauge, status.TTL.Seconds(), kind)
	w.family(internaldefs.BusyGauge, internaldefs.BusyHelp, "gauge")
	w.sample(internaldefs.BusyGauge, internaldefs.Bool01(status.Busy))

	if len(snapshot.Counters) > 0 {
		for _, def := range internaldefs.CounterDefs {
			w.family(def.Name, def.Help, "counter")
			w.sample(def.Name, int64(snapshot.Counters[def.ID]))
		}
	}
	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		w.family(def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			w.sample(def.Name+"_bucket", int64(cumulative[i]), label{"le", le})
		}
		w.sample(def.Name+"_count", int64(cumulative[len(cumulative)-1]))
		// Snapshots carry no sum.
		w.sample(def.Name+"_sum", 0)
	}

	w.family("gocred_audit_dropped_total", "Dropped audit events due to queue backpressure.", "counter")
	w.sample("gocred_audit_dropped_total", int64(dropped))
	w.family("gocred_store_write_failures_total", "Token store writes that failed or were dropped.", "counter")
	w.sample("gocred_store_write_failures_total", int64(storeFailures))

	return w.b.String()
}

type label struct {
	name, value string
}

type textWriter struct {
	b strings.Builder
}

func (w *textWriter) family(name, help, typ string) {
	w.b.WriteString("# HELP ")
	w.b.WriteString(name)
	w.b.WriteByte(' ')
	w.b.WriteString(escapeHelp(help))
	w.b.WriteString("\n# TYPE ")
	w.b.WriteString(name)
	w.b.WriteByte(' ')
	w.b.WriteString(typ)
	w.b.WriteByte('\n')
}

func (w *textWriter) sample(name string, value int64, labels ...label) {
	w.series(name, labels)
	w.b.WriteString(strconv.FormatInt(value, 10))
	w.b.WriteByte('\n')
}

func (w *textWriter) sampleFloat(name string, value float64, labels ...label) {
	w.series(name, labels)
	w.b.WriteString(strconv.FormatFloat(value, 'g', -1, 64))
	w.b.WriteByte('\n')
}

func (w *textWriter) series(name string, labels []label) {
	w.b.WriteString(name)
	if len(labels) > 0 {
		w.b.WriteByte('{')
		for i, l := range labels {
			if i > 0 {
				w.b.WriteByte(',')
			}
			w.b.WriteString(l.name)
			w.b.WriteString(`="`)
			w.b.WriteString(escapeLabel(l.value))
			w.b.WriteByte('"')
		}
		w.b.WriteByte('}')
	}
	w.b.WriteByte(' ')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}

func escapeLabel(v string) string {
	v = escapeHelp(v)
	return strings.ReplaceAll(v, `"`, `\"`)
}
