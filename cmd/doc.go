// Package cmd implements the command-line interface for calendarmcp.
//
// This package provides the following commands:
//   - serve: Start the MCP server and the browser-facing auth routes
//   - sessions: Inspect, purge and revoke stored sessions
//   - generate-docs: Generate markdown documentation for all MCP tools
//   - version: Display version information
//
// Configuration is read from flags, environment variables and an optional
// .env file in the working directory. Flags set on the command line win.
package cmd
