package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/observability"
	"github.com/danmuck/linkctl/internal/protocol"
	"github.com/danmuck/linkctl/internal/state"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

var ErrShutdownInProgress = errors.New("reconcile: shutdown in progress")

// Store is the slice of the state store the reconciler uses.
type Store interface {
	protocol.StatusSink
	Snapshot() (state.Snapshot, error)
	Generations() (state.Generations, error)
	PutInstance(rec state.InstanceRecord) error
	SetInstanceActive(name string, active bool) error
	DropInstance(name string) error
}

// Resolver looks up plugins by protocol name.
type Resolver interface {
	Resolve(name string) (protocol.Plugin, error)
}

type Config struct {
	Tick  time.Duration
	Clock clock.Clock
}

func DefaultConfig() Config {
	return Config{Tick: 100 * time.Millisecond, Clock: clock.New()}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Tick <= 0 {
		c.Tick = def.Tick
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}

// Report summarises the plugin calls one pass made.
type Report struct {
	Created      int
	Deleted      int
	Deactivated  int
	Reactivated  int
	ConfigErrors int
	Failures     int
}

// Changed reports whether the pass created or deleted anything.
func (r Report) Changed() bool {
	return r.Created > 0 || r.Deleted > 0 || r.Deactivated > 0 || r.Reactivated > 0
}

type instance struct {
	name      string
	kind      state.Kind
	plugin    protocol.Plugin
	handle    *protocol.Handle
	endPoint  tables.EndPointSpec
	entry     SocketListEntry
	transport tables.Transport
	active    bool
}

// Reconciler owns every live instance. Passes and Shutdown are serialised.
type Reconciler struct {
	cfg      Config
	store    Store
	resolver Resolver
	log      zerolog.Logger

	mu          sync.Mutex
	endPoints   map[string]*instance
	connections map[string]*instance
	lastGen     state.Generations
	passed      bool
	retry       bool
	shutdown    bool
}

func New(cfg Config, store Store, resolver Resolver) *Reconciler {
	return &Reconciler{
		cfg:         cfg.WithDefaults(),
		store:       store,
		resolver:    resolver,
		log:         logging.For("reconcile"),
		endPoints:   make(map[string]*instance),
		connections: make(map[string]*instance),
	}
}

// Run executes a pass on every tick where a table generation moved or the
// previous pass left a retryable failure.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := r.cfg.Clock.Ticker(r.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		gen, err := r.store.Generations()
		if err != nil {
			if errors.Is(err, state.ErrClosed) {
				return nil
			}
			continue
		}
		if !r.due(gen) {
			continue
		}
		if _, err := r.Pass(ctx); err != nil && !errors.Is(err, ErrShutdownInProgress) && ctx.Err() == nil {
			r.log.Warn().Err(err).Msg("reconcile.Reconciler.Run pass failed")
		}
	}
}

func (r *Reconciler) due(gen state.Generations) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.passed || r.retry || drifted(r.lastGen, gen)
}

// drifted reports whether anything the reconciler reads moved. Open flag
// changes do not count; worker exits do.
func drifted(prev, cur state.Generations) bool {
	return prev.EndPoints != cur.EndPoints ||
		prev.ConnectTo != cur.ConnectTo ||
		prev.Peers != cur.Peers ||
		prev.Exits != cur.Exits
}

// Pass runs one reconciliation pass.
func (r *Reconciler) Pass(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var report Report
	if r.shutdown {
		return report, ErrShutdownInProgress
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	start := time.Now()
	snap, err := r.store.Snapshot()
	if err != nil {
		return report, err
	}

	entries, problems := Merge(snap)
	for _, p := range problems {
		r.configError(&report, p)
	}
	r.reconcileEndPoints(snap.EndPoints, &report)
	r.reconcileConnections(entries, &report)

	r.lastGen = snap.Generations
	r.passed = true
	r.retry = report.Failures > 0

	observability.RecordReconcilePass(time.Since(start))
	observability.SetLiveInstances(string(state.KindEndPoint), len(r.endPoints))
	observability.SetLiveInstances(string(state.KindConnection), len(r.connections))
	if report.Changed() || report.Failures > 0 {
		r.log.Info().
			Int("created", report.Created).
			Int("deleted", report.Deleted).
			Int("deactivated", report.Deactivated).
			Int("reactivated", report.Reactivated).
			Int("config_errors", report.ConfigErrors).
			Int("failures", report.Failures).
			Dur("took", time.Since(start)).
			Msg("reconcile.Reconciler.Pass")
	}
	return report, nil
}

type desiredEndPoint struct {
	index  int
	row    tables.EndPointSpec
	kind   tables.Transport
	plugin protocol.Plugin
}

func (r *Reconciler) reconcileEndPoints(rows []tables.EndPointSpec, report *Report) {
	desired := make(map[string]desiredEndPoint)
	var order []string
	for i, row := range rows {
		if !row.Enabled {
			continue
		}
		kind, err := tables.ParseTransport(row.Transport)
		if err != nil {
			r.configError(report, RowError{Table: "endpoint", Row: i, Err: err})
			continue
		}
		if kind == tables.TransportNone {
			continue
		}
		plugin, err := r.resolver.Resolve(row.Protocol)
		if err != nil {
			r.configError(report, RowError{Table: "endpoint", Row: i, Err: err})
			continue
		}
		name := EndPointName(row.Protocol, kind, row.Port)
		if _, dup := desired[name]; dup {
			r.log.Debug().Str("instance", name).Int("row", i).Msg("reconcile.Reconciler.reconcileEndPoints duplicate row")
			continue
		}
		desired[name] = desiredEndPoint{index: i, row: row, kind: kind, plugin: plugin}
		order = append(order, name)
	}

	for _, name := range sortedNames(r.endPoints) {
		inst := r.endPoints[name]
		d, want := desired[name]
		switch {
		case !want || d.row != inst.endPoint || d.plugin != inst.plugin:
			r.remove(inst, report)
		case !inst.plugin.IsRunning(inst.handle):
			r.log.Info().Str("instance", name).Msg("reconcile.Reconciler.reconcileEndPoints recreating dead end point")
			r.remove(inst, report)
		}
	}

	for _, name := range order {
		if _, live := r.endPoints[name]; live {
			continue
		}
		r.createEndPoint(name, desired[name], report)
	}
}

func (r *Reconciler) createEndPoint(name string, d desiredEndPoint, report *Report) {
	rec := state.InstanceRecord{
		Name:      name,
		Kind:      state.KindEndPoint,
		Protocol:  d.plugin.Name(),
		Transport: d.kind.String(),
		Address:   strings.TrimSpace(d.row.Port),
		Port:      portOf(d.row.Port, d.kind, d.plugin.Name()),
		Active:    true,
	}
	if err := r.store.PutInstance(rec); err != nil {
		report.Failures++
		return
	}
	h, err := d.plugin.NewEndPoint(d.row, protocol.Options{ID: name, Status: r.store})
	observability.RecordInstanceOp(string(state.KindEndPoint), "create", err)
	if err != nil {
		_ = r.store.DropInstance(name)
		r.createFailed(report, "endpoint", d.index, name, err)
		return
	}
	r.endPoints[name] = &instance{name: name, kind: state.KindEndPoint, plugin: d.plugin, handle: h, endPoint: d.row, transport: d.kind, active: true}
	report.Created++
}

func (r *Reconciler) reconcileConnections(entries []SocketListEntry, report *Report) {
	fresh := make(map[string]SocketListEntry, len(entries))
	var order []string
	for _, e := range entries {
		name := e.StableName()
		if _, dup := fresh[name]; dup {
			continue
		}
		fresh[name] = e
		order = append(order, name)
	}

	for _, name := range sortedNames(r.connections) {
		if _, want := fresh[name]; want {
			continue
		}
		inst := r.connections[name]
		if !inst.plugin.IsRunning(inst.handle) {
			r.remove(inst, report)
			continue
		}
		if !inst.active {
			continue
		}
		err := inst.plugin.Deactivate(inst.handle)
		observability.RecordInstanceOp(string(state.KindConnection), "deactivate", err)
		if err != nil {
			r.log.Warn().Err(err).Str("instance", name).Msg("reconcile.Reconciler.reconcileConnections deactivate failed, deleting")
			r.remove(inst, report)
			continue
		}
		inst.active = false
		_ = r.store.SetInstanceActive(name, false)
		report.Deactivated++
	}

	for _, name := range order {
		e := fresh[name]
		if inst, live := r.connections[name]; live {
			if r.reactivate(inst, e, report) {
				continue
			}
		}
		r.createConnection(name, e, report)
	}
}

// reactivate refreshes a live connection and reports whether it is still
// live afterwards. Dead connections are removed so the caller recreates them.
func (r *Reconciler) reactivate(inst *instance, e SocketListEntry, report *Report) bool {
	if !inst.plugin.IsRunning(inst.handle) {
		r.log.Info().Str("instance", inst.name).Msg("reconcile.Reconciler.reactivate recreating dead connection")
		r.remove(inst, report)
		return false
	}
	err := inst.plugin.Reactivate(inst.handle, e.Spec())
	observability.RecordInstanceOp(string(state.KindConnection), "reactivate", err)
	if err != nil {
		if errors.Is(err, protocol.ErrHandleStopped) {
			r.remove(inst, report)
			return false
		}
		r.log.Warn().Err(err).Str("instance", inst.name).Msg("reconcile.Reconciler.reactivate failed")
		report.Failures++
		return true
	}
	inst.entry = e
	if !inst.active {
		inst.active = true
		_ = r.store.SetInstanceActive(inst.name, true)
		report.Reactivated++
	}
	return true
}

func (r *Reconciler) createConnection(name string, e SocketListEntry, report *Report) {
	plugin, err := r.resolver.Resolve(e.Protocol)
	if err != nil {
		r.configError(report, RowError{Table: "connect", Row: e.Row, Err: err})
		return
	}
	rec := state.InstanceRecord{
		Name:      name,
		Kind:      state.KindConnection,
		Protocol:  plugin.Name(),
		Transport: e.Transport.String(),
		Address:   e.Address,
		Active:    true,
	}
	if err := r.store.PutInstance(rec); err != nil {
		report.Failures++
		return
	}
	h, err := plugin.Connect(e.Spec(), protocol.Options{ID: name, Status: r.store})
	observability.RecordInstanceOp(string(state.KindConnection), "create", err)
	if err != nil {
		_ = r.store.DropInstance(name)
		r.createFailed(report, "connect", e.Row, name, err)
		return
	}
	r.connections[name] = &instance{name: name, kind: state.KindConnection, plugin: plugin, handle: h, entry: e, transport: e.Transport, active: true}
	report.Created++
}

// remove deletes an instance through its plugin, which blocks until the
// worker exits, then forgets it.
func (r *Reconciler) remove(inst *instance, report *Report) {
	err := r.delete(inst)
	if err != nil {
		r.log.Warn().Err(err).Str("instance", inst.name).Msg("reconcile.Reconciler.remove delete failed")
	}
	report.Deleted++
}

func (r *Reconciler) delete(inst *instance) error {
	var err error
	if inst.kind == state.KindEndPoint {
		err = inst.plugin.DeleteEndPoint(inst.handle)
		delete(r.endPoints, inst.name)
	} else {
		err = inst.plugin.DeleteConnection(inst.handle)
		delete(r.connections, inst.name)
	}
	observability.RecordInstanceOp(string(inst.kind), "delete", err)
	if dropErr := r.store.DropInstance(inst.name); dropErr != nil && err == nil {
		err = dropErr
	}
	return err
}

// Shutdown deletes every live instance. Failures are collected, never fatal.
func (r *Reconciler) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = true

	var errs error
	for _, name := range sortedNames(r.connections) {
		if err := r.delete(r.connections[name]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for _, name := range sortedNames(r.endPoints) {
		if err := r.delete(r.endPoints[name]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if errs != nil {
		return fmt.Errorf("%w: %w", ErrShutdownInProgress, errs)
	}
	r.log.Info().Msg("reconcile.Reconciler.Shutdown complete")
	return nil
}

func (r *Reconciler) configError(report *Report, e RowError) {
	report.ConfigErrors++
	observability.RecordConfigError(e.Table, e.Reason())
	r.log.Warn().Err(e.Err).Str("table", e.Table).Int("row", e.Row).Msg("reconcile.Reconciler skipped row")
}

// createFailed separates bad rows, which wait for an edit, from transport
// failures, which are retried on the next tick.
func (r *Reconciler) createFailed(report *Report, table string, row int, name string, err error) {
	if errors.Is(err, tables.ErrConfig) || errors.Is(err, tables.ErrInvalidAddress) || errors.Is(err, protocol.ErrTransportUnsupported) {
		r.configError(report, RowError{Table: table, Row: row, Err: fmt.Errorf("%s: %w", name, err)})
		return
	}
	report.Failures++
	r.log.Warn().Err(err).Str("instance", name).Msg("reconcile.Reconciler create failed")
}

func sortedNames(m map[string]*instance) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// portOf extracts the TCP port an end point listens on, falling back to the
// protocol default. Serial end points have none.
func portOf(raw string, kind tables.Transport, proto string) int {
	if kind == tables.TransportSerial {
		return 0
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return tables.DefaultPort(proto, kind)
	}
	if i := strings.LastIndexByte(raw, ':'); i >= 0 {
		raw = raw[i+1:]
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
