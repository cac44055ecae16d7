// Package transport owns the byte-stream carriers used by protocol plugins.
//
// Ownership boundary:
// - TCP, TLS and serial Listen/Dial behind io.ReadWriteCloser
// - listen and dial address normalisation with well-known ports
// - TLS material validation
// - redial backoff delays
package transport
