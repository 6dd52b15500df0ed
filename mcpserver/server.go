package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/pyexec/config"
	"github.com/isdmx/pyexec/orchestrator"
	"github.com/isdmx/pyexec/status"
)

// Service is the orchestrator surface the MCP layer depends on.
type Service interface {
	EnqueueInstall(ctx context.Context, sessionID string, packages []string) (orchestrator.Enqueued, error)
	EnqueueExecute(ctx context.Context, sessionID, code string, env map[string]string) (orchestrator.Enqueued, error)
	Status(ctx context.Context, taskID string) (status.Record, bool, error)
	Terminate(ctx context.Context, sessionID string) (bool, error)
	Upload(ctx context.Context, sessionID, filename string, r io.Reader) (string, error)
	DownloadFile(ctx context.Context, sessionID, filename string) (orchestrator.Download, error)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	svc       Service
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, svc Service) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		svc:    svc,
	}

	s.mcpServer = server.NewMCPServer("pyexec", "A session-scoped Python execution server")

	s.registerExecuteCodeTool()
	s.registerInstallPackagesTool()
	s.registerTaskStatusTool()
	s.registerTerminateSessionTool()

	return s, nil
}

func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Queue Python code for execution in a session's sandbox and return a task id to poll",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session identifier",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Python source code to run",
				},
				"env": map[string]any{
					"type":        "object",
					"description": "Environment variables for the run (optional)",
				},
			},
			Required: []string{"session_id", "code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

func (s *MCPServer) registerInstallPackagesTool() {
	tool := mcp.Tool{
		Name:        "install_packages",
		Description: "Queue pip package installation into a session's virtual environment and return a task id to poll",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session identifier",
				},
				"packages": map[string]any{
					"type":        "array",
					"description": "Package specifiers to install",
					"items":       map[string]any{"type": "string"},
				},
			},
			Required: []string{"session_id", "packages"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleInstallPackages)
}

func (s *MCPServer) registerTaskStatusTool() {
	tool := mcp.Tool{
		Name:        "task_status",
		Description: "Fetch the current status record of a queued install or execute task",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"task_id": map[string]any{
					"type":        "string",
					"description": "Task id returned by execute_code or install_packages",
				},
			},
			Required: []string{"task_id"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleTaskStatus)
}

func (s *MCPServer) registerTerminateSessionTool() {
	tool := mcp.Tool{
		Name:        "terminate_session",
		Description: "Delete a session's files and cached virtual environment",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session identifier",
				},
			},
			Required: []string{"session_id"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleTerminateSession)
}

func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return nil, fmt.Errorf("session_id parameter is required: %w", err)
	}
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	var env map[string]string
	if raw, ok := request.GetArguments()["env"].(map[string]any); ok {
		env = make(map[string]string, len(raw))
		for k, v := range raw {
			str, isStr := v.(string)
			if !isStr {
				return nil, fmt.Errorf("env value for %s must be a string", k)
			}
			env[k] = str
		}
	}

	s.logger.Info("code execution requested via mcp",
		zap.String("session_id", sessionID))

	enq, err := s.svc.EnqueueExecute(ctx, sessionID, code, env)
	if err != nil {
		return errorResult("Failed to queue execution: %v", err), nil
	}
	return jsonResult(enq)
}

func (s *MCPServer) handleInstallPackages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return nil, fmt.Errorf("session_id parameter is required: %w", err)
	}

	rawPackages, ok := request.GetArguments()["packages"].([]any)
	if !ok {
		return nil, fmt.Errorf("packages parameter must be an array of strings")
	}
	packages := make([]string, 0, len(rawPackages))
	for _, p := range rawPackages {
		str, isStr := p.(string)
		if !isStr {
			return nil, fmt.Errorf("packages entries must be strings")
		}
		packages = append(packages, str)
	}

	s.logger.Info("package install requested via mcp",
		zap.String("session_id", sessionID),
		zap.Strings("packages", packages))

	enq, err := s.svc.EnqueueInstall(ctx, sessionID, packages)
	if err != nil {
		return errorResult("Failed to queue install: %v", err), nil
	}
	return jsonResult(enq)
}

func (s *MCPServer) handleTaskStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := request.RequireString("task_id")
	if err != nil {
		return nil, fmt.Errorf("task_id parameter is required: %w", err)
	}

	rec, found, err := s.svc.Status(ctx, taskID)
	if err != nil {
		return errorResult("Status lookup failed: %v", err), nil
	}
	if !found {
		return errorResult("Task not found."), nil
	}
	return jsonResult(rec)
}

func (s *MCPServer) handleTerminateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return nil, fmt.Errorf("session_id parameter is required: %w", err)
	}

	existed, err := s.svc.Terminate(ctx, sessionID)
	if err != nil {
		return errorResult("Failed to terminate session: %v", err), nil
	}

	message := fmt.Sprintf("Session %s terminated successfully.", sessionID)
	if !existed {
		message = fmt.Sprintf("Session %s not found.", sessionID)
	}
	return jsonResult(map[string]string{"status": "success", "message": message})
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
