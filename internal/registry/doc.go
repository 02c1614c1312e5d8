// Package registry holds the set of joined chat members.
//
// Admission runs the registered prechecks in order; the first rejection
// wins and the candidate is kicked with the reason. Delivery helpers
// (Broadcast, SendTo) snapshot membership under the lock and write to
// transports outside it.
package registry
