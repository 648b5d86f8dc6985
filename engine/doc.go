// Package engine implements the execution dispatcher.
//
// The dispatcher maps one execution request onto a sandbox: it acquires a
// warm sandbox or cold-starts a new one (with a single fallback retry
// across backends), submits the input under the signature's deadline,
// classifies the handler output, and guarantees that every acquired
// sandbox is released back to the pool or destroyed on every exit path,
// including timeouts and caller cancellation.
package engine
