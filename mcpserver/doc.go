// Package mcpserver exposes the orchestrator over the Model Context
// Protocol (MCP).
//
// It uses the mark3labs/mcp-go library for the protocol details and
// registers four tools: execute_code and install_packages queue
// background tasks and return a task key, task_status polls a task's
// record, and terminate_session removes a session's files. The server
// can run on stdio or streamable HTTP depending on the configured
// transport.
package mcpserver
