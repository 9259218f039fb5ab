// Package mcp implements the MCP Streamable HTTP transport endpoint.
//
// A single /mcp route accepts JSON-RPC 2.0 POST messages and dispatches
// initialize, tools/list, and tools/call against the tool registry.
// Protocol-level failures (parse errors, unknown methods, unknown tools,
// bad arguments) travel as JSON-RPC error objects inside HTTP 200
// responses; handler failures come back as isError tool results.
//
// The server runs stateless by default. In stateful mode initialize mints
// a session ID returned in the Mcp-Session-Id header, every other method
// requires a live session, DELETE terminates one, and a janitor goroutine
// evicts sessions that sit idle past their TTL. Envelopes on the same
// session are serialized; notifications are acknowledged with 202 and
// never answered, per JSON-RPC 2.0.
package mcp
