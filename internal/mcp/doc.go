// Package mcp serves brain over the Model Context Protocol.
//
// Every action tool goes through the same audited dispatcher as the HTTP API,
// so MCP calls leave the same event nodes in the store. brain_dispatch takes
// a raw {kind, payload} action; brain_hello, brain_capture_thought,
// brain_query_nodes and brain_vector_search are typed shortcuts for one kind
// each. brain_git_diff reads the configured repository and is not audited.
package mcp
