package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/funcbox/config"
	"github.com/isdmx/funcbox/engine"
	"github.com/isdmx/funcbox/function"
)

// MCPServer exposes the dispatcher over the Model Context Protocol
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	dispatcher *engine.Dispatcher
	mcpServer  *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, dispatcher *engine.Dispatcher) (*MCPServer, error) {
	s := &MCPServer{
		config:     cfg,
		logger:     logger,
		dispatcher: dispatcher,
	}

	s.mcpServer = server.NewMCPServer("funcbox", "A serverless function execution engine")
	s.registerExecuteFunctionTool()

	return s, nil
}

// registerExecuteFunctionTool registers the execute_function tool
func (s *MCPServer) registerExecuteFunctionTool() {
	tool := mcp.Tool{
		Name:        "execute_function",
		Description: "Execute a user function in an isolated sandbox and return its structured result",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Function source code",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Runtime language",
					"enum":        []string{"python", "javascript"},
				},
				"handler": map[string]any{
					"type":        "string",
					"description": "Entry point name (default: handler)",
				},
				"input": map[string]any{
					"type":        "string",
					"description": "JSON-encoded input value passed to the handler (optional)",
				},
				"timeout": map[string]any{
					"type":        "number",
					"description": "Execution timeout in seconds (optional)",
				},
			},
			Required: []string{"code", "language"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteFunction)
}

// handleExecuteFunction handles the execute_function tool
func (s *MCPServer) handleExecuteFunction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}
	if !function.ValidLanguage(language) {
		return nil, fmt.Errorf("invalid language: %s, must be one of: python, javascript", language)
	}

	handler := request.GetString("handler", "handler")

	var input json.RawMessage
	if inputStr := request.GetString("input", ""); inputStr != "" {
		if !json.Valid([]byte(inputStr)) {
			return nil, fmt.Errorf("input must be valid JSON")
		}
		input = json.RawMessage(inputStr)
	}

	sig := function.Signature{
		Language: language,
		Handler:  handler,
		Code:     code,
		Limits: function.Limits{
			TimeoutSec: int(request.GetFloat("timeout", 0)),
		}.WithDefaults(),
	}

	s.logger.Info("executing function over MCP",
		zap.String("language", language),
		zap.String("handler", handler))

	result := s.dispatcher.Execute(ctx, engine.ExecutionRequest{
		Signature: sig,
		Input:     input,
	})

	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(body),
			},
		},
		IsError: result.Status != engine.StatusSuccess,
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.MCPHTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}
