package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/funcbox/runtime"
)

// State is the lifecycle state of a sandbox
type State int32

// Sandbox lifecycle states
const (
	StateCold State = iota
	StateWarming
	StateIdle
	StateBusy
	StateDestroyed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateWarming:
		return "warming"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Sandbox is a pooled execution environment. A sandbox is owned by exactly
// one party at a time: the pool while Idle, the executing request while
// Busy. State transitions happen under the pool lock.
type Sandbox struct {
	ID           string
	Backend      string
	Handle       runtime.Handle
	SignatureKey string

	rt       runtime.Runtime
	state    State
	lastUsed time.Time
}

// NewSandbox wraps a started backend handle as a Busy sandbox owned by the
// caller. The caller must hand it to Pool.Add before releasing it.
func NewSandbox(h runtime.Handle, key string, rt runtime.Runtime) *Sandbox {
	return &Sandbox{
		ID:           h.ID,
		Backend:      h.Backend,
		Handle:       h,
		SignatureKey: key,
		rt:           rt,
		state:        StateBusy,
	}
}

// State returns the sandbox lifecycle state
func (s *Sandbox) State() State {
	return s.state
}

// Runtime returns the backend runtime that owns this sandbox's handle
func (s *Sandbox) Runtime() runtime.Runtime {
	return s.rt
}

// Config holds the pool capacity and eviction tunables
type Config struct {
	// GlobalCapacity bounds the total number of live sandboxes (idle and
	// busy) across all signatures.
	GlobalCapacity int

	// PerSignatureCapacity bounds the idle sandboxes kept per signature.
	PerSignatureCapacity int

	// IdleTimeout is how long an idle sandbox survives without traffic.
	IdleTimeout time.Duration

	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration
}

// Pool is the warm pool manager. All bookkeeping is O(1)-ish under a single
// mutex; backend destroy calls always happen outside the lock so they never
// serialize executions.
type Pool struct {
	logger *zap.Logger
	cfg    Config
	now    func() time.Time

	mu    sync.Mutex
	idle  map[string][]*Sandbox // index 0 = most recently released
	busy  map[string]int
	total int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a warm pool manager
func New(logger *zap.Logger, cfg Config) *Pool {
	return &Pool{
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		idle:   make(map[string][]*Sandbox),
		busy:   make(map[string]int),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Acquire pops the most recently released idle sandbox for the signature
// and transitions it to Busy. The second return is false on a pool miss;
// the caller must cold-start instead of waiting.
func (p *Pool) Acquire(key string) (*Sandbox, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.idle[key]
	if len(list) == 0 {
		return nil, false
	}

	sb := list[0]
	p.idle[key] = list[1:]
	sb.state = StateBusy
	p.busy[key]++
	return sb, true
}

// ReserveSlot makes room for one cold start under the global capacity,
// evicting the globally least-recently-used idle sandbox if the pool is
// full. It never blocks: when every live sandbox is busy there is nothing
// to evict and the cold start proceeds over capacity.
func (p *Pool) ReserveSlot(ctx context.Context) {
	p.mu.Lock()
	var victim *Sandbox
	if p.cfg.GlobalCapacity > 0 && p.total >= p.cfg.GlobalCapacity {
		victim = p.removeGlobalLRULocked()
	}
	p.total++
	p.mu.Unlock()

	if victim != nil {
		p.destroyHandle(ctx, victim, "global capacity eviction")
	}
}

// UnreserveSlot returns a reserved slot after a failed cold start
func (p *Pool) UnreserveSlot() {
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

// Add registers a cold-started sandbox as Busy. Its slot was already
// counted by ReserveSlot.
func (p *Pool) Add(sb *Sandbox) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb.state = StateBusy
	p.busy[sb.SignatureKey]++
}

// Release transitions a Busy sandbox back to Idle at the front of its
// signature's list. If the signature now holds more idle sandboxes than its
// capacity, the least recently released one is destroyed.
func (p *Pool) Release(ctx context.Context, sb *Sandbox) {
	p.mu.Lock()
	if sb.state != StateBusy {
		p.mu.Unlock()
		p.logger.Warn("release of sandbox not in busy state",
			zap.String("sandbox_id", sb.ID),
			zap.String("state", sb.state.String()))
		return
	}

	p.busy[sb.SignatureKey]--
	sb.state = StateIdle
	sb.lastUsed = p.now()
	p.idle[sb.SignatureKey] = append([]*Sandbox{sb}, p.idle[sb.SignatureKey]...)

	var victim *Sandbox
	if p.cfg.PerSignatureCapacity > 0 && len(p.idle[sb.SignatureKey]) > p.cfg.PerSignatureCapacity {
		list := p.idle[sb.SignatureKey]
		victim = list[len(list)-1]
		p.idle[sb.SignatureKey] = list[:len(list)-1]
		victim.state = StateDestroyed
		p.total--
	}
	p.mu.Unlock()

	if victim != nil {
		p.destroyHandle(ctx, victim, "per-signature capacity eviction")
	}
}

// Discard removes a sandbox from all bookkeeping and destroys its backend
// resources. Used instead of Release for unhealthy sandboxes (killed,
// timed out, or protocol-violating). Idempotent.
func (p *Pool) Discard(ctx context.Context, sb *Sandbox) {
	p.mu.Lock()
	if sb.state == StateDestroyed {
		p.mu.Unlock()
		return
	}
	switch sb.state {
	case StateBusy:
		p.busy[sb.SignatureKey]--
	case StateIdle:
		p.idle[sb.SignatureKey] = removeFromList(p.idle[sb.SignatureKey], sb)
	}
	sb.state = StateDestroyed
	p.total--
	p.mu.Unlock()

	p.destroyHandle(ctx, sb, "discard")
}

// Stats is a point-in-time view of pool occupancy
type Stats struct {
	Idle  int `json:"idle"`
	Busy  int `json:"busy"`
	Total int `json:"total"`
}

// Stats returns current pool occupancy
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := 0
	for _, list := range p.idle {
		idle += len(list)
	}
	busy := 0
	for _, n := range p.busy {
		busy += n
	}
	return Stats{Idle: idle, Busy: busy, Total: p.total}
}

// IdleCount returns the idle sandbox count for one signature
func (p *Pool) IdleCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[key])
}

// Start launches the background idle sweep
func (p *Pool) Start() {
	go p.sweepLoop()
}

// Stop halts the sweep and destroys every remaining sandbox
func (p *Pool) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
	})

	p.mu.Lock()
	var victims []*Sandbox
	for key, list := range p.idle {
		for _, sb := range list {
			sb.state = StateDestroyed
			p.total--
			victims = append(victims, sb)
		}
		delete(p.idle, key)
	}
	p.mu.Unlock()

	for _, sb := range victims {
		p.destroyHandle(ctx, sb, "shutdown")
	}
}

func (p *Pool) sweepLoop() {
	defer close(p.done)
	interval := p.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.SweepIdle(context.Background())
		}
	}
}

// SweepIdle destroys idle sandboxes whose last use exceeds the idle
// timeout. Exposed so tests can trigger a sweep without the ticker.
func (p *Pool) SweepIdle(ctx context.Context) {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	cutoff := p.now().Add(-p.cfg.IdleTimeout)

	p.mu.Lock()
	var victims []*Sandbox
	for key, list := range p.idle {
		kept := list[:0]
		for _, sb := range list {
			if sb.lastUsed.Before(cutoff) {
				sb.state = StateDestroyed
				p.total--
				victims = append(victims, sb)
			} else {
				kept = append(kept, sb)
			}
		}
		if len(kept) == 0 {
			delete(p.idle, key)
		} else {
			p.idle[key] = kept
		}
	}
	p.mu.Unlock()

	for _, sb := range victims {
		p.destroyHandle(ctx, sb, "idle eviction")
	}
}

// removeGlobalLRULocked pops the least recently used idle sandbox across
// all signatures. Caller holds the lock.
func (p *Pool) removeGlobalLRULocked() *Sandbox {
	var victim *Sandbox
	var victimKey string
	for key, list := range p.idle {
		if len(list) == 0 {
			continue
		}
		oldest := list[len(list)-1]
		if victim == nil || oldest.lastUsed.Before(victim.lastUsed) {
			victim = oldest
			victimKey = key
		}
	}
	if victim == nil {
		return nil
	}
	list := p.idle[victimKey]
	p.idle[victimKey] = list[:len(list)-1]
	victim.state = StateDestroyed
	p.total--
	return victim
}

// destroyHandle releases backend resources, logging rather than returning
// errors so cleanup never masks a primary result
func (p *Pool) destroyHandle(ctx context.Context, sb *Sandbox, reason string) {
	if err := sb.rt.Destroy(ctx, sb.Handle); err != nil {
		p.logger.Error("failed to destroy sandbox",
			zap.String("sandbox_id", sb.ID),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	p.logger.Debug("sandbox destroyed",
		zap.String("sandbox_id", sb.ID),
		zap.String("signature", sb.SignatureKey),
		zap.String("reason", reason))
}

func removeFromList(list []*Sandbox, sb *Sandbox) []*Sandbox {
	for i, candidate := range list {
		if candidate == sb {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// String implements fmt.Stringer for debugging
func (s Stats) String() string {
	return fmt.Sprintf("idle=%d busy=%d total=%d", s.Idle, s.Busy, s.Total)
}
