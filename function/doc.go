// Package function defines function signatures and the in-memory registry
// of stored function definitions.
//
// A Signature identifies a function for pooling purposes: two requests with
// the same language, handler, code hash, and resource limits may share a
// warm sandbox. A Definition is a named, stored function that callers can
// invoke by id without resubmitting its code.
package function
