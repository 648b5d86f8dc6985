package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector(nil)

	c.Record(Sample{Language: "python", Backend: "gvisor", Status: StatusSuccess, WarmStart: false, Seconds: 0.2})
	c.Record(Sample{Language: "python", Backend: "gvisor", Status: StatusSuccess, WarmStart: true, Seconds: 0.1})
	c.Record(Sample{Language: "javascript", Backend: "docker", Status: StatusError, WarmStart: false, Seconds: 0.3})
	c.Record(Sample{Language: "python", Backend: "gvisor", Status: StatusTimeout, WarmStart: true, Seconds: 1.0})

	snap := c.Snapshot()

	assert.Equal(t, int64(4), snap.TotalExecutions)
	assert.Equal(t, int64(2), snap.SuccessfulExecutions)
	assert.Equal(t, int64(2), snap.FailedExecutions, "timeouts count as failures")
	assert.Equal(t, int64(1), snap.TimeoutExecutions)
	assert.Equal(t, int64(2), snap.ColdStarts)
	assert.Equal(t, int64(2), snap.WarmStarts)
	assert.InDelta(t, 1.6, snap.TotalExecutionTime, 1e-9)
	assert.InDelta(t, 0.4, snap.AvgExecutionTime, 1e-9)

	python := snap.ByLanguage["python"]
	assert.Equal(t, int64(3), python.Count)
	assert.Equal(t, int64(2), python.Success)
	assert.Equal(t, int64(1), python.Errors)
	assert.InDelta(t, 1.3, python.TotalTime, 1e-9)

	js := snap.ByLanguage["javascript"]
	assert.Equal(t, int64(1), js.Count)
	assert.Equal(t, int64(1), js.Errors)

	gvisor := snap.ByBackend["gvisor"]
	assert.Equal(t, int64(3), gvisor.Count)
	docker := snap.ByBackend["docker"]
	assert.Equal(t, int64(1), docker.Count)
}

func TestCollectorSnapshotIsACopy(t *testing.T) {
	c := NewCollector(nil)
	c.Record(Sample{Language: "python", Backend: "docker", Status: StatusSuccess, Seconds: 0.1})

	snap := c.Snapshot()
	snap.ByLanguage["python"] = GroupStats{Count: 999}
	snap.TotalExecutions = 999

	fresh := c.Snapshot()
	assert.Equal(t, int64(1), fresh.TotalExecutions)
	assert.Equal(t, int64(1), fresh.ByLanguage["python"].Count)
}

func TestCollectorPrometheusInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Record(Sample{Language: "python", Backend: "gvisor", Status: StatusSuccess, WarmStart: false, Seconds: 0.2})
	c.Record(Sample{Language: "python", Backend: "gvisor", Status: StatusSuccess, WarmStart: true, Seconds: 0.1})
	c.Record(Sample{Language: "python", Backend: "docker", Status: StatusTimeout, WarmStart: false, Seconds: 5})
	c.SetPoolOccupancy(3, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(
		c.invocations.WithLabelValues("python", "gvisor", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.invocations.WithLabelValues("python", "docker", StatusTimeout)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.starts.WithLabelValues("cold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.starts.WithLabelValues("warm")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.poolIdle))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.poolBusy))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["funcbox_engine_invocations_total"])
	assert.True(t, names["funcbox_engine_execution_duration_seconds"])
	assert.True(t, names["funcbox_engine_starts_total"])
	assert.True(t, names["funcbox_pool_idle_sandboxes"])
	assert.True(t, names["funcbox_pool_busy_sandboxes"])
}

func TestCollectorConcurrentRecord(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				c.Record(Sample{Language: "python", Backend: "docker", Status: StatusSuccess, Seconds: 0.01})
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(workers*perWorker), snap.TotalExecutions)
	assert.Equal(t, int64(workers*perWorker), snap.SuccessfulExecutions)
}
