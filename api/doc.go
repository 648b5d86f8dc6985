// Package api exposes the engine over HTTP.
//
// The API mirrors the platform surface: direct execution of inline code,
// CRUD on stored function definitions, execution of stored functions by id,
// the dashboard metrics snapshot, and the Prometheus scrape endpoint.
package api
