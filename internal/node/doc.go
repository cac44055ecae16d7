// Package node composes one linkctl process.
//
// Ownership boundary:
// - building the state store, protocol registry, reconciler and discovery
// - loading the tables file into the store and reloading it on change
// - supervising every long-lived loop and tearing them down in order
package node
