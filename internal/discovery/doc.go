// Package discovery owns LAN announcement of this node's end points.
//
// Ownership boundary:
// - periodic and debounced announcement of open end points
// - receiving announcements into the LAN Services table
// - sequence dedup of repeated datagrams
//
// Listening stays on whatever the broadcast setting.
package discovery
