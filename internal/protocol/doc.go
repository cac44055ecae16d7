// Package protocol owns the plugin contract for application protocols.
//
// Ownership boundary:
// - Plugin interface and name-keyed Registry
// - Handle lifecycle: worker start, open flag, stop and join
// - StatusSink posts addressed by instance name
//
// Plugin workers never touch shared tables; they report through the sink.
package protocol
