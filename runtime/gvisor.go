package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/isdmx/funcbox/function"
)

// GVisorRuntime implements Runtime using docker with the gVisor (runsc)
// runtime for stronger kernel-level isolation. It shares the container
// plumbing with ContainerRuntime; only the run arguments differ.
type GVisorRuntime struct {
	inner *ContainerRuntime
}

// NewGVisorRuntime creates a gVisor-backed runtime
func NewGVisorRuntime(logger *zap.Logger, config *Config, opts ...ContainerRuntimeOption) *GVisorRuntime {
	inner := NewContainerRuntime(logger, config, opts...)
	inner.backend = BackendGVisor
	inner.extraRunArgs = []string{"--runtime", "runsc"}
	return &GVisorRuntime{inner: inner}
}

// Backend returns the backend name
func (g *GVisorRuntime) Backend() string {
	return g.inner.Backend()
}

// Prepare resolves the image for the signature and allocates a handle
func (g *GVisorRuntime) Prepare(ctx context.Context, sig function.Signature) (Handle, error) {
	return g.inner.Prepare(ctx, sig)
}

// Start launches the sandbox under the runsc runtime
func (g *GVisorRuntime) Start(ctx context.Context, h Handle) error {
	return g.inner.Start(ctx, h)
}

// Submit runs the handler inside the sandbox
func (g *GVisorRuntime) Submit(ctx context.Context, h Handle, payload []byte) ([]byte, error) {
	return g.inner.Submit(ctx, h, payload)
}

// Kill forcefully terminates the sandbox. Idempotent.
func (g *GVisorRuntime) Kill(ctx context.Context, h Handle) error {
	return g.inner.Kill(ctx, h)
}

// Destroy removes the sandbox and its resources. Idempotent.
func (g *GVisorRuntime) Destroy(ctx context.Context, h Handle) error {
	return g.inner.Destroy(ctx, h)
}
