// Package runtime provides the sandbox backends for function execution.
//
// The runtime package abstracts over the container backends used to isolate
// user functions. Two variants implement the Runtime contract: the standard
// ContainerRuntime (plain docker) and the GVisorRuntime (docker with the
// runsc runtime for kernel-level isolation). The Selector probes gVisor
// availability once per process and falls back to the standard runtime when
// it is not installed on the host.
package runtime
