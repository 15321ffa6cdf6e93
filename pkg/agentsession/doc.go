// Package agentsession defines the contract between the run orchestrator and
// the long-lived agent session it drives: the Session interface, the tagged
// event union emitted while a prompt streams, and the message/history types.
//
// The session itself is an external collaborator. This package also ships a
// reference implementation backed by a plain completion provider for
// providers without native session support.
package agentsession
