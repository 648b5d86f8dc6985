// Package pool implements the warm sandbox pool.
//
// The pool caches idle, ready sandboxes per function signature so repeat
// invocations skip the container cold-start. Acquire pops the most recently
// released sandbox for a signature; Release returns it; Discard removes an
// unhealthy sandbox and destroys its backend resources. A background sweep
// evicts sandboxes idle past the configured timeout, and a global capacity
// bound evicts the least-recently-used idle sandbox before a new cold start
// when the host is full.
package pool
