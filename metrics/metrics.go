package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Execution status values as recorded on samples
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Sample is one completed execution as seen by the collector
type Sample struct {
	Language  string
	Backend   string
	Status    string
	WarmStart bool
	Seconds   float64
}

// GroupStats aggregates executions sharing a language or backend
type GroupStats struct {
	Count     int64   `json:"count"`
	Success   int64   `json:"success"`
	Errors    int64   `json:"errors"`
	TotalTime float64 `json:"total_time"`
	AvgTime   float64 `json:"avg_time"`
}

// Snapshot is the aggregate view served to the dashboard
type Snapshot struct {
	TotalExecutions      int64                 `json:"total_executions"`
	SuccessfulExecutions int64                 `json:"successful_executions"`
	FailedExecutions     int64                 `json:"failed_executions"`
	TimeoutExecutions    int64                 `json:"timeout_executions"`
	ColdStarts           int64                 `json:"cold_starts"`
	WarmStarts           int64                 `json:"warm_starts"`
	TotalExecutionTime   float64               `json:"total_execution_time"`
	AvgExecutionTime     float64               `json:"avg_execution_time"`
	ByLanguage           map[string]GroupStats `json:"by_language"`
	ByBackend            map[string]GroupStats `json:"by_backend"`
}

// Collector records execution samples into Prometheus instruments and the
// aggregate snapshot. Safe for concurrent use.
type Collector struct {
	invocations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	starts      *prometheus.CounterVec
	poolIdle    prometheus.Gauge
	poolBusy    prometheus.Gauge

	mu   sync.Mutex
	snap Snapshot
}

// NewCollector creates a collector and registers its instruments on the
// given registry. A nil registry disables the Prometheus instruments but
// keeps the snapshot aggregates working.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		snap: Snapshot{
			ByLanguage: make(map[string]GroupStats),
			ByBackend:  make(map[string]GroupStats),
		},
	}

	c.invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "funcbox",
		Subsystem: "engine",
		Name:      "invocations_total",
		Help:      "Total function invocations by language, backend, and status.",
	}, []string{"language", "backend", "status"})

	c.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "funcbox",
		Subsystem: "engine",
		Name:      "execution_duration_seconds",
		Help:      "Wall-clock execution duration in seconds by language.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"language"})

	c.starts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "funcbox",
		Subsystem: "engine",
		Name:      "starts_total",
		Help:      "Sandbox starts by kind (cold, warm).",
	}, []string{"kind"})

	c.poolIdle = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "funcbox",
		Subsystem: "pool",
		Name:      "idle_sandboxes",
		Help:      "Number of idle sandboxes in the warm pool.",
	})

	c.poolBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "funcbox",
		Subsystem: "pool",
		Name:      "busy_sandboxes",
		Help:      "Number of busy sandboxes owned by in-flight executions.",
	})

	if reg != nil {
		reg.MustRegister(c.invocations, c.latency, c.starts, c.poolIdle, c.poolBusy)
	}

	return c
}

// Record appends one execution sample. Never blocks on anything slower
// than the internal mutex and never returns an error.
func (c *Collector) Record(s Sample) {
	c.invocations.WithLabelValues(s.Language, s.Backend, s.Status).Inc()
	c.latency.WithLabelValues(s.Language).Observe(s.Seconds)
	if s.WarmStart {
		c.starts.WithLabelValues("warm").Inc()
	} else {
		c.starts.WithLabelValues("cold").Inc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap.TotalExecutions++
	switch s.Status {
	case StatusSuccess:
		c.snap.SuccessfulExecutions++
	case StatusTimeout:
		c.snap.TimeoutExecutions++
		c.snap.FailedExecutions++
	default:
		c.snap.FailedExecutions++
	}
	if s.WarmStart {
		c.snap.WarmStarts++
	} else {
		c.snap.ColdStarts++
	}
	c.snap.TotalExecutionTime += s.Seconds
	c.snap.AvgExecutionTime = c.snap.TotalExecutionTime / float64(c.snap.TotalExecutions)

	updateGroup(c.snap.ByLanguage, s.Language, s)
	updateGroup(c.snap.ByBackend, s.Backend, s)
}

func updateGroup(groups map[string]GroupStats, key string, s Sample) {
	g := groups[key]
	g.Count++
	if s.Status == StatusSuccess {
		g.Success++
	} else {
		g.Errors++
	}
	g.TotalTime += s.Seconds
	g.AvgTime = g.TotalTime / float64(g.Count)
	groups[key] = g
}

// SetPoolOccupancy updates the pool gauges
func (c *Collector) SetPoolOccupancy(idle, busy int) {
	c.poolIdle.Set(float64(idle))
	c.poolBusy.Set(float64(busy))
}

// Snapshot returns a deep copy of the aggregate view
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.snap
	out.ByLanguage = make(map[string]GroupStats, len(c.snap.ByLanguage))
	for k, v := range c.snap.ByLanguage {
		out.ByLanguage[k] = v
	}
	out.ByBackend = make(map[string]GroupStats, len(c.snap.ByBackend))
	for k, v := range c.snap.ByBackend {
		out.ByBackend[k] = v
	}
	return out
}
