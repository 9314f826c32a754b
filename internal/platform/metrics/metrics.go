package metrics

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Opts struct {
	Name string
	Help string
}

type collector interface {
	name() string
	write(io.Writer)
}

type Registry struct {
	mu         sync.RWMutex
	collectors map[string]collector
}

func NewRegistry() *Registry {
	return &Registry{collectors: map[string]collector{}}
}

func (r *Registry) MustRegister(items ...collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		if _, exists := r.collectors[item.name()]; exists {
			panic("metrics collector already registered: " + item.name())
		}
		r.collectors[item.name()] = item
	}
}

// Handler serves every registered collector in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		r.mu.RLock()
		names := make([]string, 0, len(r.collectors))
		for name := range r.collectors {
			names = append(names, name)
		}
		sort.Strings(names)
		ordered := make([]collector, 0, len(names))
		for _, name := range names {
			ordered = append(ordered, r.collectors[name])
		}
		r.mu.RUnlock()

		for _, c := range ordered {
			c.write(w)
		}
	})
}

var Default = NewRegistry()
var processStart = time.Now()

func DefaultHandler() http.Handler {
	return Default.Handler()
}

type GaugeFunc struct {
	opts Opts
	fn   func() float64
}

func NewGaugeFunc(opts Opts, fn func() float64) *GaugeFunc {
	return &GaugeFunc{opts: opts, fn: fn}
}

func (g *GaugeFunc) name() string { return g.opts.Name }

func (g *GaugeFunc) write(w io.Writer) {
	v := 0.0
	if g.fn != nil {
		v = g.fn()
	}
	writeHead(w, g.opts, "gauge")
	fmt.Fprintf(w, "%s %s\n", g.opts.Name, formatFloat(v))
}

// vec holds labelled series for counters and gauges.
type vec struct {
	opts       Opts
	kind       string
	labelNames []string

	mu     sync.RWMutex
	values map[string]float64
}

func newVec(opts Opts, kind string, labelNames []string) *vec {
	return &vec{
		opts:       opts,
		kind:       kind,
		labelNames: append([]string(nil), labelNames...),
		values:     map[string]float64{},
	}
}

func (v *vec) name() string { return v.opts.Name }

func (v *vec) add(labelValues []string, delta float64) {
	if len(labelValues) != len(v.labelNames) {
		return
	}
	key := strings.Join(labelValues, "\xff")
	v.mu.Lock()
	v.values[key] += delta
	v.mu.Unlock()
}

func (v *vec) get(labelValues []string) float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[strings.Join(labelValues, "\xff")]
}

func (v *vec) write(w io.Writer) {
	writeHead(w, v.opts, v.kind)

	v.mu.RLock()
	keys := make([]string, 0, len(v.values))
	for key := range v.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, v.opts.Name+formatLabels(v.labelNames, strings.Split(key, "\xff"))+" "+formatFloat(v.values[key]))
	}
	v.mu.RUnlock()

	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

type CounterVec struct{ *vec }

func NewCounterVec(opts Opts, labelNames []string) *CounterVec {
	return &CounterVec{newVec(opts, "counter", labelNames)}
}

func (c *CounterVec) WithLabelValues(values ...string) *Counter {
	return &Counter{parent: c.vec, labelValues: values}
}

type Counter struct {
	parent      *vec
	labelValues []string
}

func (c *Counter) Add(v float64) {
	if c == nil || c.parent == nil || v < 0 {
		return
	}
	c.parent.add(c.labelValues, v)
}

func (c *Counter) Inc() { c.Add(1) }

// Value is mostly useful in tests.
func (c *Counter) Value() float64 {
	if c == nil || c.parent == nil {
		return 0
	}
	return c.parent.get(c.labelValues)
}

type GaugeVec struct{ *vec }

func NewGaugeVec(opts Opts, labelNames []string) *GaugeVec {
	return &GaugeVec{newVec(opts, "gauge", labelNames)}
}

func (g *GaugeVec) Add(delta float64, labelValues ...string) {
	g.vec.add(labelValues, delta)
}

func (g *GaugeVec) Value(labelValues ...string) float64 {
	return g.vec.get(labelValues)
}

func writeHead(w io.Writer, opts Opts, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", opts.Name, opts.Help, opts.Name, kind)
}

func formatLabels(names, values []string) string {
	if len(names) == 0 {
		return ""
	}
	pairs := make([]string, len(names))
	for i, n := range names {
		pairs[i] = n + `="` + escapeLabelValue(values[i]) + `"`
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escapeLabelValue(v string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`).Replace(v)
}

func init() {
	Default.MustRegister(
		NewGaugeFunc(Opts{Name: "process_uptime_seconds", Help: "Seconds since process start."}, func() float64 {
			return time.Since(processStart).Seconds()
		}),
		NewGaugeFunc(Opts{Name: "go_goroutines", Help: "Number of goroutines."}, func() float64 {
			return float64(runtime.NumGoroutine())
		}),
		NewGaugeFunc(Opts{Name: "go_memstats_heap_inuse_bytes", Help: "Heap in-use bytes."}, func() float64 {
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			return float64(mem.HeapInuse)
		}),
	)
}
