// Package server owns the listening sockets and wires sessions, the event
// bus and the registry into the chat behavior.
//
// Ownership boundary:
// - TCP accept loop and per-connection read loop
// - WebSocket listener carrying the same framed byte stream
// - chat handlers: MOTD, username admission, message fan-out, join/leave notices
// - debug event tap
package server
