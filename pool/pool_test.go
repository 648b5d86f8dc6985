package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/funcbox/function"
	"github.com/isdmx/funcbox/runtime"
)

// fakeRuntime implements runtime.Runtime, recording destroy calls
type fakeRuntime struct {
	mu        sync.Mutex
	destroyed map[string]int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{destroyed: make(map[string]int)}
}

func (f *fakeRuntime) Prepare(_ context.Context, _ function.Signature) (runtime.Handle, error) {
	return runtime.Handle{}, nil
}

func (f *fakeRuntime) Start(_ context.Context, _ runtime.Handle) error {
	return nil
}

func (f *fakeRuntime) Submit(_ context.Context, _ runtime.Handle, _ []byte) ([]byte, error) {
	return nil, nil
}

func (f *fakeRuntime) Kill(_ context.Context, _ runtime.Handle) error {
	return nil
}

func (f *fakeRuntime) Destroy(_ context.Context, h runtime.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed[h.ID]++
	return nil
}

func (f *fakeRuntime) Backend() string {
	return "fake"
}

func (f *fakeRuntime) destroyCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed[id]
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	return New(zaptest.NewLogger(t), cfg)
}

// coldStart mimics the dispatcher's miss path: reserve a slot and register
// a fresh Busy sandbox
func coldStart(ctx context.Context, p *Pool, rt runtime.Runtime, key, id string) *Sandbox {
	p.ReserveSlot(ctx)
	sb := NewSandbox(runtime.Handle{ID: id, ContainerName: "test-" + id}, key, rt)
	p.Add(sb)
	return sb
}

func TestAcquireMiss(t *testing.T) {
	p := newTestPool(t, Config{GlobalCapacity: 4, PerSignatureCapacity: 2})

	sb, ok := p.Acquire("sig-a")
	assert.Nil(t, sb)
	assert.False(t, ok)
}

func TestReleaseThenAcquireMostRecent(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	p := newTestPool(t, Config{GlobalCapacity: 4, PerSignatureCapacity: 4})

	first := coldStart(ctx, p, rt, "sig-a", "sb-1")
	second := coldStart(ctx, p, rt, "sig-a", "sb-2")

	p.Release(ctx, first)
	p.Release(ctx, second)

	got, ok := p.Acquire("sig-a")
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID, "acquire must pop the most recently released sandbox")
	assert.Equal(t, StateBusy, got.State())

	got2, ok := p.Acquire("sig-a")
	require.True(t, ok)
	assert.Equal(t, first.ID, got2.ID)

	_, ok = p.Acquire("sig-a")
	assert.False(t, ok)
}

func TestPerSignatureCapacityEviction(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	p := newTestPool(t, Config{GlobalCapacity: 10, PerSignatureCapacity: 2})

	var sandboxes []*Sandbox
	for i := 0; i < 3; i++ {
		sandboxes = append(sandboxes, coldStart(ctx, p, rt, "sig-a", fmt.Sprintf("sb-%d", i)))
	}

	for _, sb := range sandboxes {
		p.Release(ctx, sb)
	}

	// The first released sandbox is the least recently used and must have
	// been evicted when the third release exceeded the capacity.
	assert.Equal(t, 2, p.IdleCount("sig-a"))
	assert.Equal(t, 1, rt.destroyCount("sb-0"))
	assert.Equal(t, 0, rt.destroyCount("sb-1"))
	assert.Equal(t, 0, rt.destroyCount("sb-2"))
	assert.Equal(t, StateDestroyed, sandboxes[0].State())

	stats := p.Stats()
	assert.Equal(t, 2, stats.Idle)
	assert.Equal(t, 0, stats.Busy)
	assert.Equal(t, 2, stats.Total)
}

func TestGlobalCapacityEvictsLRUAcrossSignatures(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	p := newTestPool(t, Config{GlobalCapacity: 2, PerSignatureCapacity: 2})

	a := coldStart(ctx, p, rt, "sig-a", "sb-a")
	p.Release(ctx, a)
	b := coldStart(ctx, p, rt, "sig-b", "sb-b")
	p.Release(ctx, b)

	// Pool is at global capacity with two idle sandboxes; reserving a slot
	// for a new cold start must evict the oldest idle one (sig-a's).
	p.ReserveSlot(ctx)

	assert.Equal(t, 1, rt.destroyCount("sb-a"))
	assert.Equal(t, 0, rt.destroyCount("sb-b"))
	assert.Equal(t, 0, p.IdleCount("sig-a"))
	assert.Equal(t, 1, p.IdleCount("sig-b"))
}

func TestReserveSlotProceedsWhenAllBusy(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	p := newTestPool(t, Config{GlobalCapacity: 1, PerSignatureCapacity: 1})

	coldStart(ctx, p, rt, "sig-a", "sb-a")

	// No idle sandbox to evict; the cold start must still proceed rather
	// than queue.
	p.ReserveSlot(ctx)
	assert.Equal(t, 2, p.Stats().Total)
	p.UnreserveSlot()
	assert.Equal(t, 1, p.Stats().Total)
}

func TestDiscardIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	p := newTestPool(t, Config{GlobalCapacity: 4, PerSignatureCapacity: 2})

	sb := coldStart(ctx, p, rt, "sig-a", "sb-1")

	p.Discard(ctx, sb)
	p.Discard(ctx, sb)

	assert.Equal(t, 1, rt.destroyCount("sb-1"))
	assert.Equal(t, StateDestroyed, sb.State())

	stats := p.Stats()
	assert.Equal(t, 0, stats.Busy)
	assert.Equal(t, 0, stats.Total)
}

func TestDiscardIdleSandbox(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	p := newTestPool(t, Config{GlobalCapacity: 4, PerSignatureCapacity: 2})

	sb := coldStart(ctx, p, rt, "sig-a", "sb-1")
	p.Release(ctx, sb)
	require.Equal(t, 1, p.IdleCount("sig-a"))

	p.Discard(ctx, sb)
	assert.Equal(t, 0, p.IdleCount("sig-a"))
	assert.Equal(t, 1, rt.destroyCount("sb-1"))
}

func TestSweepIdleEvictsStaleSandboxes(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	p := newTestPool(t, Config{
		GlobalCapacity:       4,
		PerSignatureCapacity: 2,
		IdleTimeout:          5 * time.Minute,
	})

	stale := coldStart(ctx, p, rt, "sig-a", "sb-stale")
	fresh := coldStart(ctx, p, rt, "sig-a", "sb-fresh")
	p.Release(ctx, stale)
	p.Release(ctx, fresh)

	stale.lastUsed = time.Now().Add(-10 * time.Minute)

	p.SweepIdle(ctx)

	assert.Equal(t, 1, p.IdleCount("sig-a"))
	assert.Equal(t, 1, rt.destroyCount("sb-stale"))
	assert.Equal(t, 0, rt.destroyCount("sb-fresh"))
}

func TestStopDestroysRemainingIdle(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	p := newTestPool(t, Config{GlobalCapacity: 4, PerSignatureCapacity: 2, SweepInterval: time.Hour})

	p.Start()
	sb := coldStart(ctx, p, rt, "sig-a", "sb-1")
	p.Release(ctx, sb)

	p.Stop(ctx)

	assert.Equal(t, 1, rt.destroyCount("sb-1"))
	assert.Equal(t, 0, p.Stats().Total)
}

func TestBalanceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	p := newTestPool(t, Config{GlobalCapacity: 8, PerSignatureCapacity: 3})

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sb, ok := p.Acquire("sig-a")
			if !ok {
				sb = coldStart(ctx, p, rt, "sig-a", fmt.Sprintf("sb-%d", n))
			}
			if n%5 == 0 {
				p.Discard(ctx, sb)
			} else {
				p.Release(ctx, sb)
			}
		}(i)
	}
	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, 0, stats.Busy, "every acquire must be matched by a release or discard")
	assert.Equal(t, stats.Idle, stats.Total)
	assert.LessOrEqual(t, p.IdleCount("sig-a"), 3)
}
