// Package tools aggregates the tools of several MCP servers into one flat
// namespace and dispatches the tool calls requested by the model.
//
// The namespace is computed fresh on every call: providers are listed in
// registration order and the first provider that lists a name owns it.
// Dispatch never fails as a whole, every call yields exactly one Result,
// in request order, tagged with the request's call ID.
package tools
