// Package tables owns the desired-state row shapes and their file format.
//
// Ownership boundary:
// - End Point and Connect-To row types
// - transport and protocol tokens, short codes, well-known ports
// - tables file load/write (TOML or YAML) and change watching
//
// Rows keep their raw string tokens; parsing happens per row at reconcile
// time so one malformed row never blocks the others.
package tables
