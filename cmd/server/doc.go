// Package main is the entry point for the funcbox server.
//
// The funcbox server executes user-submitted functions on demand in
// isolated sandboxes, reusing pre-started sandboxes per function signature
// to cut cold-start latency. It serves a REST API for execution and
// function management, a Prometheus scrape endpoint, and optionally an MCP
// transport for agent clients.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
