// Package protocol owns the packet contract and its codec.
//
// Ownership boundary:
// - packet kinds table and per-kind verification
// - record encode/decode (JSON object tagged with "type")
// - built-in kinds: Message, Kick
//
// Framing lives in protocol/frame; field rules live in protocol/schema.
package protocol
