package protocol

import "github.com/danmuck/linkctl/internal/tables"

// Plugin creates and destroys end points and connections for one application
// protocol. Create calls return immediately; readiness is reported later
// through the handle's open flag. Delete calls block until the handle's worker
// has exited.
type Plugin interface {
	Name() string
	NewEndPoint(spec tables.EndPointSpec, opts Options) (*Handle, error)
	DeleteEndPoint(h *Handle) error
	Connect(spec tables.ConnectSpec, opts Options) (*Handle, error)
	DeleteConnection(h *Handle) error
	// Reactivate resumes a paused connection and applies changed parameters
	// while keeping session state.
	Reactivate(h *Handle, spec tables.ConnectSpec) error
	// Deactivate pauses a connection without deleting it.
	Deactivate(h *Handle) error
	IsRunning(h *Handle) bool
}

// StatusSink receives worker status for a handle, addressed by its ID.
type StatusSink interface {
	PostStatus(id string, open bool)
	PostExit(id string)
}

// Options are fixed at creation time.
type Options struct {
	// ID is the stable instance name used to address status posts.
	ID     string
	Status StatusSink
}

type discardSink struct{}

func (discardSink) PostStatus(string, bool) {}
func (discardSink) PostExit(string)         {}

// DiscardStatus drops every status post.
var DiscardStatus StatusSink = discardSink{}
