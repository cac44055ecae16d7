// Package state owns every shared table of a node.
//
// Ownership boundary:
// - End Point and Connect-To rows
// - LAN Services table with TTL and skew handling
// - instance records and per-table generations
//
// Only the Store's actor goroutine touches the tables. Requests and one-way
// status posts share one mailbox, so a post made before a request is applied
// first.
package state
