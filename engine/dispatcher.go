package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/funcbox/function"
	"github.com/isdmx/funcbox/metrics"
	"github.com/isdmx/funcbox/pool"
	"github.com/isdmx/funcbox/runtime"
)

// cleanupTimeout bounds the kill/destroy calls made after a request's own
// context is already dead.
const cleanupTimeout = 15 * time.Second

// ExecutionRequest is one function invocation as handed to the dispatcher
type ExecutionRequest struct {
	Signature function.Signature
	Input     json.RawMessage
}

// Dispatcher orchestrates executions end to end
type Dispatcher struct {
	logger    *zap.Logger
	selector  *runtime.Selector
	pool      *pool.Pool
	collector *metrics.Collector
}

// New creates a dispatcher
func New(logger *zap.Logger, selector *runtime.Selector, p *pool.Pool, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		logger:    logger,
		selector:  selector,
		pool:      p,
		collector: collector,
	}
}

// Execute runs one request to completion and always returns a result with
// exactly one of the success, error, or timeout statuses. The acquired
// sandbox is released or destroyed on every path.
func (d *Dispatcher) Execute(ctx context.Context, req ExecutionRequest) ExecutionResult {
	sig := req.Signature
	sig.Limits = sig.Limits.WithDefaults()

	if err := sig.Validate(); err != nil {
		return d.record(sig, ExecutionResult{
			Status:    StatusError,
			ErrorKind: ErrKindUserError,
			Error:     err.Error(),
		})
	}

	key := sig.Key()
	sb, warm := d.pool.Acquire(key)
	if !warm {
		var err error
		sb, err = d.coldStart(ctx, sig, key)
		if err != nil {
			d.logger.Error("no backend could provide a sandbox",
				zap.String("signature", key),
				zap.Error(err))
			return d.record(sig, ExecutionResult{
				Status:    StatusError,
				ErrorKind: ErrKindSandboxUnavailable,
				Error:     fmt.Sprintf("sandbox unavailable: %v", err),
			})
		}
	}

	result := d.invoke(ctx, sig, sb, req.Input)
	result.WarmStart = warm
	result.Backend = sb.Backend
	return d.record(sig, result)
}

// invoke submits the request to an owned Busy sandbox and settles its fate
func (d *Dispatcher) invoke(ctx context.Context, sig function.Signature, sb *pool.Sandbox, input json.RawMessage) ExecutionResult {
	payload := input
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	submitCtx, cancel := context.WithTimeout(ctx, sig.Limits.Timeout())
	defer cancel()

	start := time.Now()
	raw, err := sb.Runtime().Submit(submitCtx, sb.Handle, payload)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			// Deadline was ours. A killed sandbox is never reusable.
			d.killAndDiscard(sb, "timeout")
			return ExecutionResult{
				Status:        StatusTimeout,
				Error:         fmt.Sprintf("execution exceeded %ds timeout", sig.Limits.TimeoutSec),
				ExecutionTime: float64(sig.Limits.TimeoutSec),
			}
		case ctx.Err() != nil:
			d.killAndDiscard(sb, "caller cancellation")
			return ExecutionResult{
				Status:        StatusError,
				ErrorKind:     ErrKindCancelled,
				Error:         "execution cancelled by caller",
				ExecutionTime: elapsed,
			}
		default:
			d.killAndDiscard(sb, "submit failure")
			return ExecutionResult{
				Status:        StatusError,
				ErrorKind:     ErrKindInternal,
				Error:         fmt.Sprintf("sandbox invocation failed: %v", err),
				ExecutionTime: elapsed,
			}
		}
	}

	out, parseErr := parseHandlerOutput(raw)
	if parseErr != nil {
		d.logger.Warn("sandbox produced malformed output",
			zap.String("sandbox_id", sb.ID),
			zap.Error(parseErr))
		d.discard(sb, "malformed output")
		return ExecutionResult{
			Status:        StatusError,
			ErrorKind:     ErrKindMalformedOutput,
			Error:         "failed to parse function output",
			ExecutionTime: elapsed,
		}
	}

	// The sandbox is structurally healthy from here on; it goes back to
	// the pool whether the user function succeeded or raised.
	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer releaseCancel()
	d.pool.Release(releaseCtx, sb)

	if out.Status == "error" {
		return ExecutionResult{
			Status:        StatusError,
			ErrorKind:     ErrKindUserError,
			Error:         out.Error,
			Traceback:     out.Traceback,
			ExecutionTime: elapsed,
		}
	}

	return ExecutionResult{
		Status:        StatusSuccess,
		Result:        out.Result,
		ExecutionTime: elapsed,
	}
}

// coldStart prepares and starts a fresh sandbox, retrying once against the
// fallback backend when the primary fails. Returns a Busy sandbox
// registered with the pool.
func (d *Dispatcher) coldStart(ctx context.Context, sig function.Signature, key string) (*pool.Sandbox, error) {
	primary, fallback := d.selector.Runtimes(ctx)

	d.pool.ReserveSlot(ctx)

	rt := primary
	h, err := d.prepareAndStart(ctx, rt, sig)
	if err != nil && fallback != nil && isBackendError(err) {
		d.logger.Warn("primary backend failed to start sandbox, retrying on fallback",
			zap.String("primary", primary.Backend()),
			zap.String("fallback", fallback.Backend()),
			zap.Error(err))
		if errors.Is(err, runtime.ErrRuntimeUnavailable) {
			d.selector.RecordFallback()
		}
		rt = fallback
		h, err = d.prepareAndStart(ctx, rt, sig)
	}
	if err != nil {
		d.pool.UnreserveSlot()
		return nil, err
	}

	sb := pool.NewSandbox(h, key, rt)
	d.pool.Add(sb)
	return sb, nil
}

// prepareAndStart runs the prepare/start pair, destroying the handle if
// start fails so a half-started sandbox never leaks
func (d *Dispatcher) prepareAndStart(ctx context.Context, rt runtime.Runtime, sig function.Signature) (runtime.Handle, error) {
	h, err := rt.Prepare(ctx, sig)
	if err != nil {
		return runtime.Handle{}, err
	}
	if err := rt.Start(ctx, h); err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if destroyErr := rt.Destroy(cleanupCtx, h); destroyErr != nil {
			d.logger.Error("failed to destroy sandbox after start failure",
				zap.String("sandbox_id", h.ID),
				zap.Error(destroyErr))
		}
		return runtime.Handle{}, err
	}
	return h, nil
}

func (d *Dispatcher) killAndDiscard(sb *pool.Sandbox, reason string) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := sb.Runtime().Kill(cleanupCtx, sb.Handle); err != nil {
		d.logger.Error("failed to kill sandbox",
			zap.String("sandbox_id", sb.ID),
			zap.String("reason", reason),
			zap.Error(err))
	}
	d.pool.Discard(cleanupCtx, sb)
}

func (d *Dispatcher) discard(sb *pool.Sandbox, reason string) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	d.logger.Debug("discarding sandbox",
		zap.String("sandbox_id", sb.ID),
		zap.String("reason", reason))
	d.pool.Discard(cleanupCtx, sb)
}

// record forwards the outcome to the metrics collector and updates pool
// gauges. Fire-and-forget relative to the response.
func (d *Dispatcher) record(sig function.Signature, result ExecutionResult) ExecutionResult {
	if d.collector != nil {
		d.collector.Record(metrics.Sample{
			Language:  sig.Language,
			Backend:   result.Backend,
			Status:    string(result.Status),
			WarmStart: result.WarmStart,
			Seconds:   result.ExecutionTime,
		})
		stats := d.pool.Stats()
		d.collector.SetPoolOccupancy(stats.Idle, stats.Busy)
	}
	return result
}

// isBackendError reports whether the error is a backend-level failure that
// warrants one retry on the fallback runtime
func isBackendError(err error) bool {
	return errors.Is(err, runtime.ErrImageUnavailable) ||
		errors.Is(err, runtime.ErrStartFailure) ||
		errors.Is(err, runtime.ErrRuntimeUnavailable)
}

// parseHandlerOutput decodes the single JSON object the handler prints.
// Anything else is a protocol violation.
func parseHandlerOutput(raw []byte) (handlerOutput, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return handlerOutput{}, fmt.Errorf("empty output")
	}

	var out handlerOutput
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return handlerOutput{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if out.Status != "success" && out.Status != "error" {
		return handlerOutput{}, fmt.Errorf("unexpected status %q", out.Status)
	}
	return out, nil
}
