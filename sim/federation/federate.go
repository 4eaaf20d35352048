// Package federation runs a sim.Simulator as one federate of a distributed
// co-simulation. Each federate owns a subset of the cities, publishes their
// sector attributes every step and mirrors the cities owned by its peers.
//
// A Federate has two threads of control: the driver, which calls the
// exported methods, and the RTI callback goroutine, which only records
// events in the ambassador. The driver blocks on those records through
// ambassador.wait and applies received object events between steps, so a
// tick never sees a mirror change underneath it.
package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/code-lab-org/sipg-sub003/sim"
	"github.com/code-lab-org/sipg-sub003/sim/checkpoint"
	"github.com/code-lab-org/sipg-sub003/sim/rti"
)

// errResetPending ends a grant wait because a peer started a reset.
var errResetPending = errors.New("reset pending")

// Federate drives one simulator as a member of a federation.
//
// Thread-safety: State, LogicalTime, Offline, RequestStop and RequestReset
// may be called from any goroutine; every other method belongs to the
// driver goroutine.
type Federate struct {
	cfg   Config
	rti   rti.RTI
	sim   *sim.Simulator
	amb   *ambassador
	log   *logrus.Entry
	runID string

	mu      sync.Mutex
	state   State
	now     int64
	offline bool
	closed  bool

	lookahead int64
	leader    map[string]bool
	owned     []*ownedObject
	byHandle  map[rti.ObjectHandle]*ownedObject
	mirrors   map[rti.ObjectHandle]*sim.RemoteSystem
	initial   *sim.State

	stop  atomic.Bool
	reset atomic.Bool
}

type ownedObject struct {
	name   string
	city   *sim.Society
	sector sim.Sector
	handle rti.ObjectHandle
}

// New prepares a federate for the locally owned cities of s. Ownership must
// already be assigned with AssignOwnership.
func New(cfg Config, conn rti.RTI, s *sim.Simulator) (*Federate, error) {
	if conn == nil || s == nil {
		panic("federation.New: nil RTI or simulator")
	}
	simCfg := s.Config()
	if err := cfg.Validate(simCfg.Iterations); err != nil {
		return nil, err
	}
	if cfg.FederateType == "" {
		cfg.FederateType = DefaultFederateType
	}
	f := &Federate{
		cfg:       cfg,
		rti:       conn,
		sim:       s,
		amb:       newAmbassador(),
		runID:     uuid.NewString(),
		lookahead: cfg.UnitsPerYear / int64(simCfg.Iterations),
		leader:    make(map[string]bool),
		byHandle:  make(map[rti.ObjectHandle]*ownedObject),
		mirrors:   make(map[rti.ObjectHandle]*sim.RemoteSystem),
	}
	for _, c := range s.Root.Cities() {
		if c.Remote() {
			continue
		}
		for _, sector := range sim.Sectors {
			f.owned = append(f.owned, &ownedObject{name: objectName(c.Name(), sector), city: c, sector: sector})
		}
	}
	if len(f.owned) == 0 {
		return nil, fmt.Errorf("federate %q owns no cities", cfg.FederateName)
	}
	if f.cfg.FederateName == "" {
		f.cfg.FederateName = defaultName(f.cfg, s.Root)
	}
	f.now = f.ticks(s.Clock)
	f.log = logrus.WithFields(logrus.Fields{"federate": f.cfg.FederateName, "federation": cfg.Federation})
	s.SetLogger(f.log)
	return f, nil
}

// defaultName names an unnamed federate. With a checkpoint directory the name
// is derived from the federation and the owned cities, so a restarted process
// finds the checkpoints of its previous run; otherwise it is random.
func defaultName(cfg Config, root *sim.Society) string {
	if cfg.CheckpointDir == "" {
		return cfg.FederateType + "-" + uuid.NewString()[:8]
	}
	var cities []string
	for _, c := range root.Cities() {
		if !c.Remote() {
			cities = append(cities, c.Name())
		}
	}
	key := cfg.Federation + "/" + strings.Join(cities, ",")
	return cfg.FederateType + "-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()[:8]
}

func (f *Federate) Name() string              { return f.cfg.FederateName }
func (f *Federate) Simulator() *sim.Simulator { return f.sim }
func (f *Federate) Lookahead() int64          { return f.lookahead }

// Leader reports whether this federate registered the last round of label.
func (f *Federate) Leader(label string) bool { return f.leader[label] }

func (f *Federate) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LogicalTime is the last granted federation time.
func (f *Federate) LogicalTime() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Offline reports whether the federate lost its RTI and advances alone.
func (f *Federate) Offline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offline
}

// RequestStop ends Run at the next step boundary.
func (f *Federate) RequestStop() { f.stop.Store(true) }

// RequestReset restores the initial state at the next step boundary. Peers
// follow when they see the reset barrier announced.
func (f *Federate) RequestReset() { f.reset.Store(true) }

func (f *Federate) setState(s State) {
	f.mu.Lock()
	prev := f.state
	f.state = s
	f.mu.Unlock()
	if prev != s {
		f.log.Debugf("state %s -> %s", prev, s)
	}
}

func (f *Federate) setNow(t int64) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *Federate) expect(op string, states ...State) error {
	st := f.State()
	for _, s := range states {
		if st == s {
			return nil
		}
	}
	return &StateError{Op: op, State: st}
}

func (f *Federate) ticks(t sim.Time) int64 {
	return t.Ticks(f.sim.Config().StartYear, f.cfg.UnitsPerYear)
}

func (f *Federate) wait(ctx context.Context, what string, cond func() bool) error {
	return f.amb.wait(ctx, f.cfg.WaitTimeout, what, cond)
}

// Connect creates or attaches to the federation, joins it, declares
// publication and subscription of every sector class and registers one
// object per owned city system.
func (f *Federate) Connect(ctx context.Context) error {
	if err := f.expect("connect", Disconnected); err != nil {
		return err
	}
	f.setState(Connecting)
	if err := f.connect(ctx); err != nil {
		f.setState(Disconnected)
		return err
	}
	f.setState(Joined)
	f.log.Infof("joined with %d owned objects", len(f.owned))
	return nil
}

func (f *Federate) connect(ctx context.Context) error {
	if err := f.rti.CreateFederation(ctx, f.cfg.Federation); err != nil && !errors.Is(err, rti.ErrFederationExists) {
		return fmt.Errorf("create federation %q: %w", f.cfg.Federation, err)
	}
	if _, err := f.rti.Join(ctx, f.cfg.Federation, f.cfg.FederateName, f.cfg.FederateType, f.amb); err != nil && !errors.Is(err, rti.ErrAlreadyJoined) {
		return fmt.Errorf("join %q: %w", f.cfg.Federation, err)
	}
	for _, sector := range sim.Sectors {
		class, attrs := sector.ClassName(), classAttributes(sector)
		if err := f.rti.PublishObjectClass(ctx, class, attrs); err != nil {
			return fmt.Errorf("publish %s: %w", class, err)
		}
		if err := f.rti.SubscribeObjectClass(ctx, class, attrs); err != nil {
			return fmt.Errorf("subscribe %s: %w", class, err)
		}
	}
	for _, o := range f.owned {
		h, err := f.rti.RegisterObjectInstance(ctx, o.sector.ClassName(), o.name)
		if err != nil {
			return fmt.Errorf("register %s: %w", o.name, err)
		}
		o.handle = h
		f.byHandle[h] = o
	}
	return nil
}

// EnableTimeManagement makes the federate regulating with its lookahead and
// constrained, and waits for both confirmations.
func (f *Federate) EnableTimeManagement(ctx context.Context) error {
	if err := f.expect("enable time management", Joined); err != nil {
		return err
	}
	if err := f.rti.EnableTimeRegulation(ctx, f.lookahead); err != nil {
		return fmt.Errorf("enable time regulation: %w", err)
	}
	if err := f.rti.EnableTimeConstrained(ctx); err != nil {
		return fmt.Errorf("enable time constrained: %w", err)
	}
	err := f.wait(ctx, "time management", func() bool { return f.amb.regulating && f.amb.constrained })
	if err != nil {
		return err
	}
	f.setState(TimeManaged)
	return nil
}

// AwaitPeers blocks until every remote city has a mirror for every sector,
// which means its owner has joined.
func (f *Federate) AwaitPeers(ctx context.Context) error {
	for {
		f.applyEvents()
		missing := f.missingMirrors()
		if len(missing) == 0 {
			return nil
		}
		err := f.wait(ctx, fmt.Sprintf("discovery of %v", missing), func() bool { return len(f.amb.inbox) > 0 })
		if err != nil {
			return err
		}
	}
}

func (f *Federate) missingMirrors() []string {
	var missing []string
	for _, c := range f.sim.Root.Cities() {
		if !c.Remote() {
			continue
		}
		for _, sector := range sim.Sectors {
			if c.System(sector) == nil {
				missing = append(missing, objectName(c.Name(), sector))
			}
		}
	}
	return missing
}

// Synchronize passes the barrier label. The federate whose registration
// succeeds leads this round.
func (f *Federate) Synchronize(ctx context.Context, label string) error {
	var before int
	f.amb.read(func() {
		f.amb.registrations[label] = regPending
		before = f.amb.synchronized[label]
	})
	if err := f.rti.RegisterSyncPoint(ctx, label); err != nil {
		return fmt.Errorf("register sync point %q: %w", label, err)
	}
	var reg registration
	err := f.wait(ctx, "announcement of "+label, func() bool {
		reg = f.amb.registrations[label]
		return reg != regPending && (f.amb.announced[label] || f.amb.synchronized[label] > before)
	})
	if err != nil {
		return err
	}
	f.leader[label] = reg == regSucceeded
	if err := f.rti.SyncPointAchieved(ctx, label); err != nil {
		return fmt.Errorf("achieve sync point %q: %w", label, err)
	}
	err = f.wait(ctx, "synchronization on "+label, func() bool { return f.amb.synchronized[label] > before })
	if err != nil {
		return err
	}
	f.log.WithField("leader", f.leader[label]).Debugf("synchronized on %q", label)
	return nil
}

// SaveInitialState takes part in the federation save of the initial state.
// The leader of the initialized barrier requests it.
func (f *Federate) SaveInitialState(ctx context.Context) error {
	if err := f.expect("save", TimeManaged, AwaitingInitialSync, Advancing); err != nil {
		return err
	}
	if f.leader[rti.LabelInitialized] {
		if err := f.rti.RequestFederationSave(ctx, rti.LabelInitialState); err != nil {
			return fmt.Errorf("request save: %w", err)
		}
	}
	f.setState(Saving)
	if err := f.wait(ctx, "save initiation", func() bool { return f.amb.saveLabel != "" }); err != nil {
		return err
	}
	if err := f.rti.FederateSaveBegun(ctx); err != nil {
		return fmt.Errorf("save begun: %w", err)
	}
	st := f.sim.Capture()
	if err := f.writeCheckpoint(st); err != nil {
		_ = f.rti.FederateSaveNotComplete(ctx)
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := f.rti.FederateSaveComplete(ctx); err != nil {
		return fmt.Errorf("save complete: %w", err)
	}
	var failed string
	err := f.wait(ctx, "federation saved", func() bool {
		failed = f.amb.saveFailed
		return f.amb.saved || failed != ""
	})
	if err != nil {
		return err
	}
	f.amb.read(func() { f.amb.saveLabel, f.amb.saved, f.amb.saveFailed = "", false, "" })
	if failed != "" {
		return fmt.Errorf("federation save %q failed: %s", rti.LabelInitialState, failed)
	}
	f.initial = &st
	f.setState(Advancing)
	f.log.Infof("initial state saved at %s", st.Clock)
	return nil
}

func (f *Federate) writeCheckpoint(st sim.State) error {
	if f.cfg.CheckpointDir == "" {
		return nil
	}
	path := checkpoint.Path(f.cfg.CheckpointDir, f.cfg.FederateName, rti.LabelInitialState)
	return checkpoint.Write(path, checkpoint.Checkpoint{
		Header: checkpoint.Header{
			RunID:    f.runID,
			Federate: f.cfg.FederateName,
			Label:    rti.LabelInitialState,
			SavedAt:  time.Now().UTC(),
		},
		State: st,
	})
}

// savedState returns the initial state from memory or the checkpoint
// directory.
func (f *Federate) savedState() (sim.State, error) {
	if f.initial != nil {
		return *f.initial, nil
	}
	if f.cfg.CheckpointDir == "" {
		return sim.State{}, errors.New("no saved state to restore")
	}
	path, err := checkpoint.Latest(f.cfg.CheckpointDir, f.cfg.FederateName, rti.LabelInitialState)
	if err != nil {
		return sim.State{}, err
	}
	cp, err := checkpoint.Read(path)
	if err != nil {
		return sim.State{}, err
	}
	return cp.State, nil
}

// Restore returns the whole federation to the initial state: reset barrier,
// federation restore led by the barrier leader, then local state and
// logical time from the save.
func (f *Federate) Restore(ctx context.Context) error {
	if err := f.expect("restore", Advancing); err != nil {
		return err
	}
	if f.Offline() {
		return f.applySaved()
	}
	if err := f.Synchronize(ctx, rti.LabelReset); err != nil {
		return err
	}
	f.setState(Restoring)
	if f.leader[rti.LabelReset] {
		f.amb.read(func() { f.amb.restoreRequest[rti.LabelInitialState] = regPending })
		if err := f.rti.RequestFederationRestore(ctx, rti.LabelInitialState); err != nil {
			return fmt.Errorf("request restore: %w", err)
		}
		var reg registration
		err := f.wait(ctx, "restore request", func() bool {
			reg = f.amb.restoreRequest[rti.LabelInitialState]
			return reg != regPending
		})
		if err != nil {
			return err
		}
		if reg == regFailed {
			return fmt.Errorf("federation refused restore of %q", rti.LabelInitialState)
		}
	}
	err := f.wait(ctx, "restore initiation", func() bool {
		return f.amb.restoreBegun && f.amb.restoreLabel != ""
	})
	if err != nil {
		return err
	}
	if err := f.applySaved(); err != nil {
		return err
	}
	if err := f.rti.FederateRestoreComplete(ctx); err != nil {
		return fmt.Errorf("restore complete: %w", err)
	}
	var failed string
	err = f.wait(ctx, "federation restored", func() bool {
		failed = f.amb.restoreFailed
		return f.amb.restored || failed != ""
	})
	if err != nil {
		return err
	}
	f.amb.read(func() {
		f.amb.restoreBegun, f.amb.restoreLabel, f.amb.restored, f.amb.restoreFailed = false, "", false, ""
		f.amb.granted = false
	})
	if failed != "" {
		return fmt.Errorf("federation restore failed: %s", failed)
	}
	f.setState(Advancing)
	f.log.Infof("restored to %s", f.sim.Clock)
	return nil
}

func (f *Federate) applySaved() error {
	st, err := f.savedState()
	if err != nil {
		return err
	}
	if err := f.sim.Apply(st); err != nil {
		return fmt.Errorf("apply saved state: %w", err)
	}
	f.setNow(f.ticks(st.Clock))
	return nil
}

// Step advances one iteration: apply received updates, answer update
// requests, step the simulator, publish owned systems and wait for the grant
// to now+lookahead. A lost connection switches to offline mode.
//
// When a peer starts a reset while this federate waits for its grant, Step
// returns without advancing logical time; Run then restores.
func (f *Federate) Step(ctx context.Context) error {
	if err := f.expect("step", Advancing); err != nil {
		return err
	}
	f.applyEvents()
	f.answerProvides(ctx)
	if err := f.sim.Step(); err != nil {
		return err
	}
	next := f.LogicalTime() + f.lookahead
	if !f.Offline() {
		err := f.publish(ctx, next)
		if err == nil {
			err = f.advance(ctx, next)
		}
		switch {
		case err == nil:
		case errors.Is(err, errResetPending):
			return nil
		case errors.Is(err, rti.ErrDisconnected):
			f.goOffline(err)
		default:
			return err
		}
	}
	f.setNow(next)
	return nil
}

func (f *Federate) advance(ctx context.Context, next int64) error {
	f.amb.read(func() { f.amb.granted = false })
	if err := f.rti.TimeAdvanceRequest(ctx, next); err != nil {
		return fmt.Errorf("time advance request to %d: %w", next, err)
	}
	var granted bool
	err := f.wait(ctx, fmt.Sprintf("grant to %d", next), func() bool {
		granted = f.amb.granted && f.amb.grantTime >= next
		return granted || f.amb.announced[rti.LabelReset]
	})
	if err != nil {
		return err
	}
	if !granted {
		return errResetPending
	}
	f.amb.read(func() { f.amb.granted = false })
	return nil
}

func (f *Federate) goOffline(err error) {
	f.mu.Lock()
	f.offline = true
	f.mu.Unlock()
	f.log.Warnf("continuing offline: %v", err)
}

// snapshot reads the committed attributes of an owned system.
func (f *Federate) snapshot(o *ownedObject, t int64) sim.Snapshot {
	return sim.Snapshot{
		Class:       o.sector.ClassName(),
		Name:        o.name,
		SocietyName: o.city.Name(),
		Time:        t,
		Values:      o.city.System(o.sector).Attributes(),
	}
}

func (f *Federate) publish(ctx context.Context, t int64) error {
	for _, o := range f.owned {
		if err := f.rti.UpdateAttributeValues(ctx, o.handle, EncodeSnapshot(f.snapshot(o, t)), t); err != nil {
			return fmt.Errorf("update %s: %w", o.name, err)
		}
	}
	return nil
}

// answerProvides publishes the requested attributes of owned objects.
func (f *Federate) answerProvides(ctx context.Context) {
	var reqs []provideRequest
	f.amb.read(func() { reqs, f.amb.provideRequests = f.amb.provideRequests, nil })
	if f.Offline() {
		return
	}
	now := f.LogicalTime()
	for _, req := range reqs {
		o, ok := f.byHandle[req.obj]
		if !ok {
			continue
		}
		all := EncodeSnapshot(f.snapshot(o, now))
		values := make(rti.AttributeValues, len(req.attributes))
		for _, attr := range req.attributes {
			if v, ok := all[attr]; ok {
				values[attr] = v
			}
		}
		if len(values) == 0 {
			continue
		}
		if err := f.rti.UpdateAttributeValues(ctx, o.handle, values, now); err != nil {
			if errors.Is(err, rti.ErrDisconnected) {
				f.goOffline(err)
				return
			}
			f.log.Warnf("provide %s: %v", o.name, err)
		}
	}
}

// applyEvents applies queued discoveries, reflections and removals in
// arrival order.
func (f *Federate) applyEvents() {
	var events []objectEvent
	f.amb.read(func() { events, f.amb.inbox = f.amb.inbox, nil })
	for _, e := range events {
		switch e.kind {
		case eventDiscover:
			f.discover(e)
		case eventReflect:
			m, ok := f.mirrors[e.obj]
			if !ok {
				f.log.Debugf("reflection for unknown object %s", e.obj)
				continue
			}
			snap, err := DecodeSnapshot(m.Sector().ClassName(), e.values, e.time)
			if err != nil {
				f.log.Warnf("bad reflection for %s: %v", m.Name(), err)
				continue
			}
			m.Reflect(snap)
		case eventRemove:
			if m, ok := f.mirrors[e.obj]; ok {
				f.log.Infof("%s left the federation, keeping last values", m.Name())
				delete(f.mirrors, e.obj)
			}
		}
	}
}

// discover attaches a typed mirror for a newly seen object to its city.
func (f *Federate) discover(e objectEvent) {
	sector, err := sim.SectorForClass(e.class)
	if err != nil {
		f.log.Warnf("ignoring %s: %v", e.name, err)
		return
	}
	cityName, ok := cityOf(e.name)
	city := f.sim.Root.Find(cityName)
	if !ok || city == nil || !city.Remote() {
		f.log.Warnf("ignoring %s: no remote city %q", e.name, cityName)
		return
	}
	m := sim.NewRemoteSystem(sector, e.name)
	if err := city.AttachRemote(m); err != nil {
		f.log.Warnf("ignoring %s: %v", e.name, err)
		return
	}
	f.mirrors[e.obj] = m
	f.log.Debugf("discovered %s", e.name)
}

// requestPeerValues asks every peer for its current attribute values.
func (f *Federate) requestPeerValues(ctx context.Context) error {
	for _, sector := range sim.Sectors {
		if err := f.rti.RequestAttributeValueUpdate(ctx, sector.ClassName(), classAttributes(sector)); err != nil {
			return fmt.Errorf("request %s values: %w", sector.ClassName(), err)
		}
	}
	return nil
}

// resetPending reports a local reset request or a reset barrier started by
// a peer.
func (f *Federate) resetPending() bool {
	if f.reset.Load() {
		return true
	}
	var announced bool
	f.amb.read(func() { announced = f.amb.announced[rti.LabelReset] })
	return announced
}

// Run executes the whole lifecycle: connect, time management, discovery of
// peers, the initialized barrier, the initial save and the advance loop
// until the end year or a stop request. Teardown always runs.
func (f *Federate) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := f.Connect(ctx); err != nil {
		return err
	}
	if err := f.EnableTimeManagement(ctx); err != nil {
		return err
	}
	if err := f.AwaitPeers(ctx); err != nil {
		return err
	}
	f.setState(AwaitingInitialSync)
	if err := f.Synchronize(ctx, rti.LabelInitialized); err != nil {
		return err
	}
	if err := f.SaveInitialState(ctx); err != nil {
		return err
	}
	err = f.requestPeerValues(ctx)
	if err == nil {
		err = f.publish(ctx, f.LogicalTime())
	}
	if err != nil {
		if !errors.Is(err, rti.ErrDisconnected) {
			return err
		}
		f.goOffline(err)
	}

	for !f.sim.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.stop.Load() {
			f.log.Info("stop requested")
			break
		}
		if f.resetPending() {
			if err := f.Restore(ctx); err != nil {
				return err
			}
			f.reset.Store(false)
			continue
		}
		if err := f.Step(ctx); err != nil {
			return err
		}
	}
	f.applyEvents()
	f.log.WithField("time", f.LogicalTime()).Infof("run finished at %s", f.sim.Clock)
	return nil
}

// Close leaves the federation. Every call is best effort and the federate
// always ends Disconnected.
func (f *Federate) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	state, offline := f.state, f.offline
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.WaitTimeout)
	defer cancel()
	if state != Disconnected && state != Connecting && !offline {
		steps := []struct {
			name string
			call func(context.Context) error
		}{
			{"disable time regulation", f.rti.DisableTimeRegulation},
			{"disable time constrained", f.rti.DisableTimeConstrained},
			{"resign", f.rti.Resign},
			{"destroy federation", func(ctx context.Context) error { return f.rti.DestroyFederation(ctx, f.cfg.Federation) }},
		}
		for _, step := range steps {
			if err := step.call(ctx); err != nil {
				f.log.Debugf("teardown: %s: %v", step.name, err)
			}
		}
	}
	_ = f.rti.Close()
	f.setState(Disconnected)
	return nil
}
