// Package events is the in-process publish/subscribe bus that drives the
// chat server.
//
// Event names are dotted strings such as "Connection.Made" or
// "Recv.Message". Subscriptions use one of three pattern forms:
//
//   - exact: "Recv.Message" matches only that name
//   - prefix wildcard: "Recv.*" matches every name starting with "Recv."
//   - catch-all: "*" or "all" matches every name
//
// Emit is synchronous. Exact subscribers run first in subscription order,
// then patterns are walked in the order they were first registered. A
// handler subscribed under two patterns that both match runs twice.
//
// The bus never holds its lock while a handler runs, so handlers may
// subscribe, unsubscribe or emit from inside a callback.
//
// A Tap mirrors matched events onto a watermill topic. Its subscribers see
// envelopes in the order the bus emitted them.
package events
