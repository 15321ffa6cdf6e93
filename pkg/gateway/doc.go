// Package gateway exposes agent runs over a local WebSocket endpoint.
// Clients submit run requests and receive streamed partial, block, and tool
// frames followed by the final reply payload; out-of-band frames reach the
// active run registry to inject messages or abort a live run.
package gateway
