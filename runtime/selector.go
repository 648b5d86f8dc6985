package runtime

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Selector owns the process-wide backend choice. When the secure backend is
// preferred it probes gVisor availability once, at first use, and serves the
// gVisor runtime while keeping the standard runtime as fallback. The
// decision is cached for the process lifetime; Reprobe resets it for tests.
type Selector struct {
	logger     *zap.Logger
	secure     Runtime
	standard   Runtime
	probe      func(ctx context.Context) bool
	preferred  bool
	noFallback bool

	mu        sync.Mutex
	probed    bool
	useSecure bool
	fellBack  bool
}

// SelectorOption defines a functional option for Selector
type SelectorOption func(*Selector)

// WithProbe overrides the gVisor availability probe
func WithProbe(probe func(ctx context.Context) bool) SelectorOption {
	return func(s *Selector) {
		s.probe = probe
	}
}

// WithoutFallback pins the preferred backend: no availability probe and no
// fallback runtime is offered to the dispatcher.
func WithoutFallback() SelectorOption {
	return func(s *Selector) {
		s.noFallback = true
	}
}

// NewSelector creates a backend selector. preferSecure controls whether the
// gVisor runtime is attempted at all; when false the standard runtime is
// used unconditionally.
func NewSelector(logger *zap.Logger, secure, standard Runtime, preferSecure bool, opts ...SelectorOption) *Selector {
	s := &Selector{
		logger:    logger,
		secure:    secure,
		standard:  standard,
		preferred: preferSecure,
	}
	s.probe = func(ctx context.Context) bool {
		return probeGVisor(ctx, &RealCommandRunner{})
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Runtimes returns the primary runtime and, when the primary is the secure
// backend, the standard runtime as fallback. The fallback is nil once the
// process has settled on the standard backend.
func (s *Selector) Runtimes(ctx context.Context) (primary, fallback Runtime) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.probed {
		s.probed = true
		if s.noFallback {
			s.useSecure = s.preferred
		} else {
			s.useSecure = s.preferred && s.probe(ctx)
		}
		if s.preferred && !s.useSecure {
			s.fellBack = true
			s.logger.Info("gvisor runtime not available, using standard container runtime",
				zap.String("backend", s.standard.Backend()))
		}
	}

	if s.useSecure {
		if s.noFallback {
			return s.secure, nil
		}
		return s.secure, s.standard
	}
	return s.standard, nil
}

// RecordFallback pins the standard runtime as primary for the remainder of
// the process. Called by the dispatcher after the secure backend failed to
// start a sandbox and the standard backend succeeded.
func (s *Selector) RecordFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.useSecure {
		s.useSecure = false
		if !s.fellBack {
			s.fellBack = true
			s.logger.Warn("secure backend failed, falling back to standard container runtime for process lifetime",
				zap.String("backend", s.standard.Backend()))
		}
	}
}

// FellBack reports whether the process has fallen back to the standard
// backend after preferring the secure one.
func (s *Selector) FellBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fellBack
}

// Reprobe clears the cached backend decision so the next Runtimes call
// probes again. Test hook.
func (s *Selector) Reprobe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probed = false
	s.fellBack = false
	s.useSecure = false
}

// probeGVisor checks whether the docker daemon has the runsc runtime
// registered.
func probeGVisor(ctx context.Context, runner CommandRunner) bool {
	stdout, _, exitCode, err := runner.RunCommand(ctx, []string{
		"docker", "info", "--format", "{{json .Runtimes}}",
	})
	if err != nil || exitCode != 0 {
		return false
	}
	return strings.Contains(stdout, "runsc")
}
