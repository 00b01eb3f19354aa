// Package prometheus renders engine counters in the Prometheus text
// exposition format without pulling in a client library. Mount Handler on
// an internal-only route.
package prometheus

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	forumauth "github.com/mengnankk/forumauth"
)

type metricsSource interface {
	Metrics() *forumauth.Metrics
	EventsDropped() uint64
}

// Exporter reads engine counters on demand; it holds no state of its own.
type Exporter struct {
	source metricsSource
}

// NewExporter creates an exporter reading from the engine.
func NewExporter(engine *forumauth.Engine) *Exporter {
	return &Exporter{source: engine}
}

// NewExporterFromSource creates an exporter from a custom source, usually
// a test double.
func NewExporterFromSource(source metricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current counters over HTTP.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(e.Render()))
	})
}

// Render returns the exposition text for the current counter values.
// Counters are emitted in name order so scrapes diff cleanly.
func (e *Exporter) Render() string {
	if e == nil || e.source == nil {
		return ""
	}

	snapshot := e.source.Metrics().Snapshot()

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.Grow(4096)

	for _, name := range names {
		writeCounter(&b, "forumauth_"+name+"_total", snapshot[name])
	}
	writeCounter(&b, "forumauth_events_dropped_total", e.source.EventsDropped())

	return b.String()
}

func writeCounter(b *strings.Builder, name string, value uint64) {
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}
