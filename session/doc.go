// Package session owns the conversation lifecycle against the external agent
// runtime. A Session is a stateful handle bound to one runtime connection:
// it submits prompts, consumes the runtime's event stream, negotiates
// permission requests and exposes a typed outbound event channel for exactly
// one registered consumer (a chat adapter or the agent pool).
//
// The Manager keeps at most one interactive Session per chat, applies
// distinct inactivity timeouts for direct-message and channel conversations,
// and hosts the periodic sweep that terminates and evicts idle sessions.
//
// Only one caller may drive a Session's state transitions; safety comes from
// the single-owner rule, not from callers sharing a Session across
// goroutines.
package session
