package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/funcbox/function"
)

// Config holds configuration shared by the container runtimes
type Config struct {
	// Images maps a language to its base image. Images carry the language
	// handler at /function/function_handler.{py,js}.
	Images map[string]string

	// NetworkEnabled attaches sandboxes to the bridge network. Disabled by
	// default; functions normally run with no network access.
	NetworkEnabled bool
}

// Image returns the base image configured for a language
func (c *Config) Image(language string) (string, error) {
	image, ok := c.Images[language]
	if !ok || image == "" {
		return "", fmt.Errorf("no image configured for language %s", language)
	}
	return image, nil
}

// ContainerRuntime implements Runtime using the standard docker backend.
// Sandboxes are long-running containers that idle until work is submitted;
// Submit stages the function code into the container and runs the language
// handler via docker exec.
type ContainerRuntime struct {
	logger    *zap.Logger
	config    *Config
	cmdRunner CommandRunner
	fs        FileSystem

	backend      string
	extraRunArgs []string
}

// ContainerRuntimeOption defines a functional option for ContainerRuntime
type ContainerRuntimeOption func(*ContainerRuntime)

// WithCommandRunner sets the CommandRunner for ContainerRuntime
func WithCommandRunner(cmdRunner CommandRunner) ContainerRuntimeOption {
	return func(c *ContainerRuntime) {
		c.cmdRunner = cmdRunner
	}
}

// WithFileSystem sets the FileSystem for ContainerRuntime
func WithFileSystem(fs FileSystem) ContainerRuntimeOption {
	return func(c *ContainerRuntime) {
		c.fs = fs
	}
}

// NewContainerRuntime creates a standard docker runtime
func NewContainerRuntime(logger *zap.Logger, config *Config, opts ...ContainerRuntimeOption) *ContainerRuntime {
	rt := &ContainerRuntime{
		logger:    logger,
		config:    config,
		cmdRunner: &RealCommandRunner{},
		fs:        &RealFileSystem{},
		backend:   BackendDocker,
	}

	for _, opt := range opts {
		opt(rt)
	}

	return rt
}

// Backend returns the backend name
func (c *ContainerRuntime) Backend() string {
	return c.backend
}

// Prepare resolves the image for the signature and allocates a handle
func (c *ContainerRuntime) Prepare(ctx context.Context, sig function.Signature) (Handle, error) {
	image, err := c.config.Image(sig.Language)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrImageUnavailable, err)
	}

	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{"docker", "image", "inspect", image})
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	if exitCode != 0 {
		return Handle{}, fmt.Errorf("%w: image %s not found: %s", ErrImageUnavailable, image, strings.TrimSpace(stderr))
	}

	id := uuid.NewString()
	return Handle{
		ID:            id,
		ContainerName: "funcbox-" + id[:8],
		Image:         image,
		Backend:       c.backend,
		Language:      sig.Language,
		Handler:       sig.Handler,
		Code:          sig.Code,
		Limits:        sig.Limits,
	}, nil
}

// Start launches the sandbox container with its resource limits applied.
// The container runs `sleep infinity` so it can accept repeated submits.
func (c *ContainerRuntime) Start(ctx context.Context, h Handle) error {
	args := []string{
		"docker", "run",
		"--detach",
		"--name", h.ContainerName,
		"--memory", fmt.Sprintf("%dm", h.Limits.MemoryMB),
		"--cpu-quota", fmt.Sprintf("%d", h.Limits.CPUQuota),
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
	}
	if c.config.NetworkEnabled {
		args = append(args, "--network", "bridge")
	} else {
		args = append(args, "--network", "none")
	}
	args = append(args, c.extraRunArgs...)
	args = append(args, h.Image, "sleep", "infinity")

	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: %s", ErrStartFailure, strings.TrimSpace(stderr))
	}

	c.logger.Debug("sandbox started",
		zap.String("sandbox_id", h.ID),
		zap.String("backend", c.backend),
		zap.String("image", h.Image))
	return nil
}

// Submit stages the function code into the sandbox and runs the handler
// with the JSON input payload, returning the handler's raw stdout.
func (c *ContainerRuntime) Submit(ctx context.Context, h Handle, payload []byte) ([]byte, error) {
	codeName, err := codeFileName(h.Language)
	if err != nil {
		return nil, err
	}

	tempDir, err := c.fs.MkdirTemp("", "funcbox-stage-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer func() {
		if rmErr := c.fs.RemoveAll(tempDir); rmErr != nil {
			c.logger.Error("failed to remove staging dir", zap.String("path", tempDir), zap.Error(rmErr))
		}
	}()

	codePath := filepath.Join(tempDir, codeName)
	if writeErr := c.fs.WriteFile(codePath, []byte(h.Code), FilePermission); writeErr != nil {
		return nil, fmt.Errorf("failed to stage function code: %w", writeErr)
	}

	_, cpStderr, cpExit, err := c.cmdRunner.RunCommand(ctx, []string{
		"docker", "cp", codePath, h.ContainerName + ":/function/" + codeName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to copy code into sandbox: %w", err)
	}
	if cpExit != 0 {
		return nil, fmt.Errorf("failed to copy code into sandbox: %s", strings.TrimSpace(cpStderr))
	}

	handlerCmd, err := handlerCommand(h.Language)
	if err != nil {
		return nil, err
	}

	args := []string{
		"docker", "exec",
		"-e", fmt.Sprintf("%s=/function/%s", EnvFunctionPath, codeName),
		"-e", fmt.Sprintf("%s=%s", EnvFunctionName, h.Handler),
		"-e", fmt.Sprintf("%s=%s", EnvInputData, string(payload)),
		h.ContainerName,
	}
	args = append(args, handlerCmd...)

	stdout, _, _, err := c.cmdRunner.RunCommand(ctx, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to invoke sandbox entrypoint: %w", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	// A nonzero handler exit still produces a JSON body on stdout; the
	// dispatcher decides how to classify whatever came back.
	return []byte(stdout), nil
}

// Kill forcefully terminates the sandbox container. Idempotent.
func (c *ContainerRuntime) Kill(ctx context.Context, h Handle) error {
	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{"docker", "kill", h.ContainerName})
	if err != nil {
		return err
	}
	if exitCode != 0 && !strings.Contains(stderr, "No such container") {
		c.logger.Warn("docker kill reported error",
			zap.String("container", h.ContainerName),
			zap.String("stderr", strings.TrimSpace(stderr)))
	}
	return nil
}

// Destroy removes the sandbox container and its resources. Idempotent.
func (c *ContainerRuntime) Destroy(ctx context.Context, h Handle) error {
	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{"docker", "rm", "--force", h.ContainerName})
	if err != nil {
		return err
	}
	if exitCode != 0 && !strings.Contains(stderr, "No such container") {
		c.logger.Warn("docker rm reported error",
			zap.String("container", h.ContainerName),
			zap.String("stderr", strings.TrimSpace(stderr)))
	}
	return nil
}
