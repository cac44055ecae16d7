// Package stream owns the byte-stream protocol plugins.
//
// Ownership boundary:
// - end point workers: bind, accept, serve
// - connection workers: dial, serve, back off, redial
// - per-connection Session state kept across reactivation
// - built-in object and device protocol plugins
package stream
