package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/isdmx/funcbox/function"
)

// Backend name constants
const (
	BackendDocker = "docker"
	BackendGVisor = "gvisor"
)

// Sentinel errors for backend failures. The dispatcher distinguishes these
// to decide between fallback, retry, and surfacing to the caller.
var (
	// ErrImageUnavailable means the base image for the requested language
	// is not present on the host.
	ErrImageUnavailable = errors.New("base image unavailable")

	// ErrStartFailure means the backend failed to start a sandbox.
	ErrStartFailure = errors.New("sandbox start failure")

	// ErrRuntimeUnavailable means the backend itself is not usable on this
	// host (daemon unreachable, runtime not installed).
	ErrRuntimeUnavailable = errors.New("sandbox runtime unavailable")
)

// Handle identifies a prepared or running sandbox at the backend level.
// Handles are raw OS resources: they are exclusively owned by whoever holds
// the sandbox and must always be destroyed explicitly.
type Handle struct {
	ID            string
	ContainerName string
	Image         string
	Backend       string
	Language      string
	Handler       string
	Code          string
	Limits        function.Limits
}

// Runtime is the contract every sandbox backend implements.
//
// Kill and Destroy are idempotent and best-effort: they swallow backend
// errors for already-gone sandboxes so cleanup never masks a primary result.
type Runtime interface {
	// Prepare resolves the backend image for the signature and allocates a
	// handle. Fails with ErrImageUnavailable if the base image is missing.
	Prepare(ctx context.Context, sig function.Signature) (Handle, error)

	// Start launches the sandbox container. The container idles until work
	// is submitted. Fails with ErrStartFailure on backend error.
	Start(ctx context.Context, h Handle) error

	// Submit stages the function code into the sandbox, invokes its
	// entrypoint with the JSON input payload, and blocks until the handler
	// writes its output or ctx is cancelled. Returns the raw stdout bytes.
	Submit(ctx context.Context, h Handle, payload []byte) ([]byte, error)

	// Kill forcefully terminates the sandbox process. Idempotent.
	Kill(ctx context.Context, h Handle) error

	// Destroy releases all backend resources for the sandbox. Idempotent.
	Destroy(ctx context.Context, h Handle) error

	// Backend returns the backend name for metrics and logging.
	Backend() string
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
			err = nil
		} else {
			return "", "", 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem defines an interface for the file system operations used while
// staging function code
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0600
)

// In-sandbox invocation contract: the handler baked into each base image
// reads these environment variables and writes a single JSON object to
// stdout before exiting.
const (
	EnvFunctionPath = "FUNCTION_PATH"
	EnvFunctionName = "FUNCTION_NAME"
	EnvInputData    = "INPUT_DATA"
)

// codeFileName returns the staged code filename for a language
func codeFileName(language string) (string, error) {
	switch language {
	case function.LanguagePython:
		return "function_code.py", nil
	case function.LanguageJavaScript:
		return "function_code.js", nil
	default:
		return "", fmt.Errorf("unsupported language: %s", language)
	}
}

// handlerCommand returns the in-sandbox command that runs the handler
func handlerCommand(language string) ([]string, error) {
	switch language {
	case function.LanguagePython:
		return []string{"python", "/function/function_handler.py"}, nil
	case function.LanguageJavaScript:
		return []string{"node", "/function/function_handler.js"}, nil
	default:
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
}
