// Package server is the operator HTTP surface.
//
// Ownership boundary:
// - reading and editing the desired-state tables through the state store
// - read-only views of LAN Services and live instances
// - health and Prometheus scrape endpoints
//
// Handlers never call the reconciler. Edits only move table generations and
// the control loop picks them up on its next tick.
package server
