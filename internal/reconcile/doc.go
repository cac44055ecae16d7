// Package reconcile owns convergence of live instances to the tables.
//
// Ownership boundary:
// - merging Connect-To rows with discovered peers into a socket list
// - end point and connection diff against live instances
// - create, delete, deactivate and reactivate calls into plugins
// - shutdown of every live instance
//
// Plugin calls never run inside the store actor.
package reconcile
