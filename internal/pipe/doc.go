// Package pipe maintains the persistent websocket session to the AI-agent
// endpoint and serves MCP tool calls over it.
//
// The wire protocol is JSON-RPC 2.0: initialize, tools/list, tools/call
// and ping. Tool calls are translated into command intents and dispatched
// through the router; the JSON-RPC id doubles as the correlation ID, so a
// frame retried by the remote side lands in the router's idempotence cache
// instead of re-toggling hardware.
//
// # Connection lifecycle
//
//	Disconnected -> Connecting -> Connected -> (I/O error) -> Disconnected
//
// with exponential backoff between attempts and a Draining state during
// shutdown. The backoff policy and clock are injectable so tests can walk
// the state machine without sleeping. The endpoint URL embeds a credential;
// log lines carry only the host.
//
// A frame that fails to decode gets a JSON-RPC error response and the
// connection stays up. Responses leave through a single writer goroutine in
// result-completion order.
package pipe
