// Package mcpserver provides the Model Context Protocol (MCP) transport.
//
// The mcpserver package exposes the execution engine as an MCP tool so
// agent clients can invoke functions without going through the REST API.
// It uses the mark3labs/mcp-go library for the protocol details and
// supports both stdio and streamable HTTP transports.
package mcpserver
