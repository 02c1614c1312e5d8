// Package session owns one client connection.
//
// Ownership boundary:
// - connection and join state machines
// - stream reassembly of length-prefixed frames
// - decoding inbound records and emitting Recv.<Kind> events
// - serialized, framed writes and Send.<Kind> events
//
// The socket itself lives behind Transport; the server's read loop feeds
// bytes in with OnBytes and reports disconnects with OnClose.
package session
