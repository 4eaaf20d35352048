package rti

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub is an in-process RTI. Every federate obtains its own Conn from
// Connect; all federation state lives in the Hub behind one mutex.
//
// Time management is conservative: a constrained federate requesting time t
// is granted once t is below the earliest timestamp any other regulating
// federate may still send, that is its pending request (or current time)
// plus its lookahead.
type Hub struct {
	mu          sync.Mutex
	federations map[string]*federation
	log         *logrus.Entry
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		federations: make(map[string]*federation),
		log:         logrus.WithField("component", "rti"),
	}
}

// Connect opens a new federate connection.
func (h *Hub) Connect() *Conn {
	return &Conn{hub: h, queue: NewCallbackQueue()}
}

// Federations lists the existing federation names, sorted.
func (h *Hub) Federations() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.federations))
	for name := range h.federations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type federation struct {
	name    string
	members map[string]*member // by handle
	names   map[string]*member // by federate name
	nextID  int

	syncPoints map[string]*syncPoint
	save       *saveState
	restore    *restoreState
	// saved records the logical time of every federate per completed save.
	saved map[string]map[string]int64

	objects     map[ObjectHandle]*object
	objectNames map[string]ObjectHandle
	nextObject  int
}

type member struct {
	handle string
	name   string
	typ    string
	conn   *Conn
	amb    Ambassador

	regulating  bool
	constrained bool
	lookahead   int64
	time        int64
	pending     bool
	requested   int64

	publications  map[string]map[string]bool
	subscriptions map[string]map[string]bool
}

func (m *member) post(fn func(Ambassador)) {
	amb := m.amb
	m.conn.queue.Post(func() { fn(amb) })
}

type syncPoint struct {
	members  map[string]bool
	achieved map[string]bool
}

type saveState struct {
	label    string
	members  map[string]bool
	begun    map[string]bool
	complete map[string]bool
	failed   map[string]bool
	times    map[string]int64
}

type restoreState struct {
	label    string
	members  map[string]bool
	complete map[string]bool
}

type object struct {
	handle ObjectHandle
	class  string
	name   string
	owner  *member
	known  map[string]bool
}

// Conn is one federate's connection to a Hub. It implements RTI.
type Conn struct {
	hub    *Hub
	queue  *CallbackQueue
	fed    *federation
	m      *member
	closed bool
}

var _ RTI = (*Conn)(nil)

// lock acquires the hub and checks the connection is usable.
func (c *Conn) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.hub.mu.Lock()
	if c.closed {
		c.hub.mu.Unlock()
		return ErrDisconnected
	}
	return nil
}

// lockJoined is lock plus a membership check.
func (c *Conn) lockJoined(ctx context.Context) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	if c.m == nil {
		c.hub.mu.Unlock()
		return ErrNotJoined
	}
	return nil
}

func (c *Conn) CreateFederation(ctx context.Context, name string) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	if _, ok := c.hub.federations[name]; ok {
		return fmt.Errorf("%w: %q", ErrFederationExists, name)
	}
	c.hub.federations[name] = &federation{
		name:        name,
		members:     make(map[string]*member),
		names:       make(map[string]*member),
		syncPoints:  make(map[string]*syncPoint),
		saved:       make(map[string]map[string]int64),
		objects:     make(map[ObjectHandle]*object),
		objectNames: make(map[string]ObjectHandle),
	}
	c.hub.log.Debugf("federation %q created", name)
	return nil
}

func (c *Conn) DestroyFederation(ctx context.Context, name string) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	f, ok := c.hub.federations[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrFederationNotExist, name)
	}
	if len(f.members) > 0 {
		return fmt.Errorf("%w: %d in %q", ErrFederatesJoined, len(f.members), name)
	}
	delete(c.hub.federations, name)
	c.hub.log.Debugf("federation %q destroyed", name)
	return nil
}

func (c *Conn) Join(ctx context.Context, fedName, name, typ string, amb Ambassador) (string, error) {
	if amb == nil {
		panic("Join: ambassador is nil")
	}
	if err := c.lock(ctx); err != nil {
		return "", err
	}
	defer c.hub.mu.Unlock()
	if c.m != nil {
		return "", ErrAlreadyJoined
	}
	f, ok := c.hub.federations[fedName]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrFederationNotExist, fedName)
	}
	f.nextID++
	handle := fmt.Sprintf("%d", f.nextID)
	if name == "" {
		name = typ + "-" + handle
	}
	if _, ok := f.names[name]; ok {
		return "", fmt.Errorf("%w: %q", ErrFederateNameInUse, name)
	}
	m := &member{
		handle:        handle,
		name:          name,
		typ:           typ,
		conn:          c,
		amb:           amb,
		publications:  make(map[string]map[string]bool),
		subscriptions: make(map[string]map[string]bool),
	}
	f.members[handle] = m
	f.names[name] = m
	c.fed, c.m = f, m
	// late joiners take part in every barrier still open
	for _, label := range sortedKeys(f.syncPoints) {
		label := label
		f.syncPoints[label].members[handle] = true
		m.post(func(a Ambassador) { a.AnnounceSyncPoint(label) })
	}
	c.hub.log.Debugf("federate %q (%s) joined %q as %s", name, typ, fedName, handle)
	return handle, nil
}

func (c *Conn) Resign(ctx context.Context) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	c.leave()
	return nil
}

// leave removes the member and releases everything that waited on it.
// Callers hold the hub lock.
func (c *Conn) leave() {
	f, m := c.fed, c.m
	c.fed, c.m = nil, nil
	delete(f.members, m.handle)
	delete(f.names, m.name)

	for _, h := range sortedKeys(f.objects) {
		obj := f.objects[ObjectHandle(h)]
		if obj.owner == m {
			f.removeObject(obj)
		} else {
			delete(obj.known, m.handle)
		}
	}
	for _, label := range sortedKeys(f.syncPoints) {
		sp := f.syncPoints[label]
		delete(sp.members, m.handle)
		delete(sp.achieved, m.handle)
		f.checkSync(label)
	}
	if f.save != nil {
		delete(f.save.members, m.handle)
		f.checkSave()
	}
	if f.restore != nil {
		delete(f.restore.members, m.handle)
		f.checkRestore()
	}
	f.grant()
	c.hub.log.Debugf("federate %q resigned from %q", m.name, f.name)
}

func (c *Conn) EnableTimeRegulation(ctx context.Context, lookahead int64) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	m := c.m
	switch {
	case m.regulating:
		return fmt.Errorf("%w: already regulating", ErrTimeManagement)
	case lookahead <= 0:
		return fmt.Errorf("%w: lookahead must be positive, got %d", ErrTimeManagement, lookahead)
	}
	m.regulating, m.lookahead = true, lookahead
	t := m.time
	m.post(func(a Ambassador) { a.TimeRegulationEnabled(t) })
	return nil
}

func (c *Conn) DisableTimeRegulation(ctx context.Context) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	if !c.m.regulating {
		return fmt.Errorf("%w: not regulating", ErrTimeManagement)
	}
	c.m.regulating = false
	c.fed.grant()
	return nil
}

func (c *Conn) EnableTimeConstrained(ctx context.Context) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	m := c.m
	if m.constrained {
		return fmt.Errorf("%w: already constrained", ErrTimeManagement)
	}
	m.constrained = true
	t := m.time
	m.post(func(a Ambassador) { a.TimeConstrainedEnabled(t) })
	return nil
}

func (c *Conn) DisableTimeConstrained(ctx context.Context) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	if !c.m.constrained {
		return fmt.Errorf("%w: not constrained", ErrTimeManagement)
	}
	c.m.constrained = false
	c.fed.grant()
	return nil
}

func (c *Conn) TimeAdvanceRequest(ctx context.Context, t int64) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	m := c.m
	switch {
	case m.pending:
		return fmt.Errorf("%w: advance to %d already pending", ErrTimeManagement, m.requested)
	case t < m.time:
		return fmt.Errorf("%w: requested %d is before current time %d", ErrTimeManagement, t, m.time)
	}
	m.pending, m.requested = true, t
	c.fed.grant()
	return nil
}

// grant issues every advance that no regulating federate can still
// invalidate. Granting leaves every other federate's bound unchanged, so
// one pass is enough.
func (f *federation) grant() {
	for _, h := range sortedKeys(f.members) {
		m := f.members[h]
		if !m.pending {
			continue
		}
		if m.constrained && m.requested >= f.boundFor(m) {
			continue
		}
		m.time, m.pending = m.requested, false
		t := m.time
		m.post(func(a Ambassador) { a.TimeAdvanceGrant(t) })
	}
}

// boundFor is the earliest timestamp another regulating federate may send.
func (f *federation) boundFor(m *member) int64 {
	bound := int64(math.MaxInt64)
	for _, o := range f.members {
		if o == m || !o.regulating {
			continue
		}
		t := o.time
		if o.pending {
			t = o.requested
		}
		bound = min(bound, t+o.lookahead)
	}
	return bound
}

func (c *Conn) RegisterSyncPoint(ctx context.Context, label string) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	f, m := c.fed, c.m
	if _, ok := f.syncPoints[label]; ok {
		m.post(func(a Ambassador) { a.SyncPointRegistrationFailed(label, "label already registered") })
		return nil
	}
	sp := &syncPoint{members: make(map[string]bool), achieved: make(map[string]bool)}
	for h := range f.members {
		sp.members[h] = true
	}
	f.syncPoints[label] = sp
	m.post(func(a Ambassador) { a.SyncPointRegistrationSucceeded(label) })
	for _, h := range sortedKeys(sp.members) {
		f.members[h].post(func(a Ambassador) { a.AnnounceSyncPoint(label) })
	}
	return nil
}

func (c *Conn) SyncPointAchieved(ctx context.Context, label string) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	sp, ok := c.fed.syncPoints[label]
	if !ok || !sp.members[c.m.handle] {
		return fmt.Errorf("%w: %q", ErrSyncPointNotAnnounced, label)
	}
	sp.achieved[c.m.handle] = true
	c.fed.checkSync(label)
	return nil
}

// checkSync completes the point once every member has achieved it. The
// label is then free for reuse.
func (f *federation) checkSync(label string) {
	sp := f.syncPoints[label]
	if len(sp.achieved) < len(sp.members) {
		return
	}
	delete(f.syncPoints, label)
	for _, h := range sortedKeys(sp.members) {
		f.members[h].post(func(a Ambassador) { a.FederationSynchronized(label) })
	}
}

func (c *Conn) RequestFederationSave(ctx context.Context, label string) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	f := c.fed
	if err := f.busy(); err != nil {
		return err
	}
	s := &saveState{
		label:    label,
		members:  make(map[string]bool),
		begun:    make(map[string]bool),
		complete: make(map[string]bool),
		failed:   make(map[string]bool),
		times:    make(map[string]int64),
	}
	for h, m := range f.members {
		s.members[h] = true
		s.times[m.name] = m.time
	}
	f.save = s
	for _, h := range sortedKeys(s.members) {
		f.members[h].post(func(a Ambassador) { a.InitiateFederateSave(label) })
	}
	return nil
}

func (f *federation) busy() error {
	if f.save != nil {
		return fmt.Errorf("%w: %q", ErrSaveInProgress, f.save.label)
	}
	if f.restore != nil {
		return fmt.Errorf("%w: %q", ErrRestoreInProgress, f.restore.label)
	}
	return nil
}

func (c *Conn) FederateSaveBegun(ctx context.Context) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	s := c.fed.save
	if s == nil || !s.members[c.m.handle] {
		return ErrNoSaveInProgress
	}
	s.begun[c.m.handle] = true
	return nil
}

func (c *Conn) FederateSaveComplete(ctx context.Context) error {
	return c.finishSave(ctx, true)
}

func (c *Conn) FederateSaveNotComplete(ctx context.Context) error {
	return c.finishSave(ctx, false)
}

func (c *Conn) finishSave(ctx context.Context, ok bool) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	s := c.fed.save
	if s == nil || !s.members[c.m.handle] {
		return ErrNoSaveInProgress
	}
	if ok {
		s.complete[c.m.handle] = true
	} else {
		s.failed[c.m.handle] = true
	}
	c.fed.checkSave()
	return nil
}

func (f *federation) checkSave() {
	s := f.save
	for h := range s.members {
		if !s.complete[h] && !s.failed[h] {
			return
		}
	}
	f.save = nil
	var failed []string
	for _, h := range sortedKeys(s.failed) {
		if m, ok := f.members[h]; ok {
			failed = append(failed, m.name)
		}
	}
	if len(failed) == 0 {
		f.saved[s.label] = s.times
	}
	for _, h := range sortedKeys(s.members) {
		if len(failed) == 0 {
			f.members[h].post(func(a Ambassador) { a.FederationSaved() })
		} else {
			reason := fmt.Sprintf("federates %v could not save", failed)
			f.members[h].post(func(a Ambassador) { a.FederationNotSaved(reason) })
		}
	}
}

func (c *Conn) RequestFederationRestore(ctx context.Context, label string) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	f, requester := c.fed, c.m
	if err := f.busy(); err != nil {
		return err
	}
	times, ok := f.saved[label]
	if ok {
		for _, m := range f.members {
			if _, ok = times[m.name]; !ok {
				break
			}
		}
	}
	if !ok {
		requester.post(func(a Ambassador) { a.RequestFederationRestoreFailed(label) })
		return nil
	}
	requester.post(func(a Ambassador) { a.RequestFederationRestoreSucceeded(label) })
	r := &restoreState{label: label, members: make(map[string]bool), complete: make(map[string]bool)}
	for _, h := range sortedKeys(f.members) {
		m := f.members[h]
		r.members[h] = true
		m.time, m.pending = times[m.name], false
		name := m.name
		m.post(func(a Ambassador) {
			a.FederationRestoreBegun()
			a.InitiateFederateRestore(label, name)
		})
	}
	f.restore = r
	return nil
}

func (c *Conn) FederateRestoreComplete(ctx context.Context) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	r := c.fed.restore
	if r == nil || !r.members[c.m.handle] {
		return ErrNoRestoreInProgress
	}
	r.complete[c.m.handle] = true
	c.fed.checkRestore()
	return nil
}

func (f *federation) checkRestore() {
	r := f.restore
	if len(r.complete) < len(r.members) {
		return
	}
	f.restore = nil
	for _, h := range sortedKeys(r.members) {
		f.members[h].post(func(a Ambassador) { a.FederationRestored() })
	}
}

func (c *Conn) PublishObjectClass(ctx context.Context, class string, attributes []string) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	c.m.publications[class] = setOf(attributes)
	return nil
}

func (c *Conn) SubscribeObjectClass(ctx context.Context, class string, attributes []string) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	m := c.m
	m.subscriptions[class] = setOf(attributes)
	for _, h := range sortedKeys(c.fed.objects) {
		obj := c.fed.objects[ObjectHandle(h)]
		if obj.class == class && obj.owner != m && !obj.known[m.handle] {
			c.fed.discover(obj, m)
		}
	}
	return nil
}

func (f *federation) discover(obj *object, m *member) {
	obj.known[m.handle] = true
	handle, class, name := obj.handle, obj.class, obj.name
	m.post(func(a Ambassador) { a.DiscoverObjectInstance(handle, class, name) })
}

func (f *federation) removeObject(obj *object) {
	delete(f.objects, obj.handle)
	delete(f.objectNames, obj.name)
	handle := obj.handle
	for _, h := range sortedKeys(obj.known) {
		if m, ok := f.members[h]; ok {
			m.post(func(a Ambassador) { a.RemoveObjectInstance(handle) })
		}
	}
}

func (c *Conn) RegisterObjectInstance(ctx context.Context, class, name string) (ObjectHandle, error) {
	if err := c.lockJoined(ctx); err != nil {
		return "", err
	}
	defer c.hub.mu.Unlock()
	f, m := c.fed, c.m
	if _, ok := m.publications[class]; !ok {
		return "", fmt.Errorf("%w: %q", ErrClassNotPublished, class)
	}
	f.nextObject++
	if name == "" {
		name = fmt.Sprintf("object-%d", f.nextObject)
	}
	if _, ok := f.objectNames[name]; ok {
		return "", fmt.Errorf("%w: %q", ErrObjectNameInUse, name)
	}
	obj := &object{
		handle: ObjectHandle(fmt.Sprintf("%s#%d", f.name, f.nextObject)),
		class:  class,
		name:   name,
		owner:  m,
		known:  make(map[string]bool),
	}
	f.objects[obj.handle] = obj
	f.objectNames[name] = obj.handle
	for _, h := range sortedKeys(f.members) {
		o := f.members[h]
		if _, ok := o.subscriptions[class]; ok && o != m {
			f.discover(obj, o)
		}
	}
	return obj.handle, nil
}

func (c *Conn) UpdateAttributeValues(ctx context.Context, handle ObjectHandle, values AttributeValues, t int64) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	f, m := c.fed, c.m
	obj, ok := f.objects[handle]
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotKnown, handle)
	}
	if obj.owner != m {
		return fmt.Errorf("%w: %s belongs to %q", ErrNotOwner, handle, obj.owner.name)
	}
	published := m.publications[obj.class]
	for attr := range values {
		if !published[attr] {
			return fmt.Errorf("%w: %s.%s not published", ErrNotOwner, obj.class, attr)
		}
	}
	for _, h := range sortedKeys(obj.known) {
		o, ok := f.members[h]
		if !ok {
			continue
		}
		sub := o.subscriptions[obj.class]
		reflected := make(AttributeValues)
		for attr, v := range values {
			if sub[attr] {
				reflected[attr] = append([]byte(nil), v...)
			}
		}
		if len(reflected) == 0 {
			continue
		}
		o.post(func(a Ambassador) { a.ReflectAttributeValues(handle, reflected, t) })
	}
	return nil
}

func (c *Conn) RequestAttributeValueUpdate(ctx context.Context, class string, attributes []string) error {
	if err := c.lockJoined(ctx); err != nil {
		return err
	}
	defer c.hub.mu.Unlock()
	for _, h := range sortedKeys(c.fed.objects) {
		obj := c.fed.objects[ObjectHandle(h)]
		if obj.class != class || obj.owner == c.m {
			continue
		}
		handle, attrs := obj.handle, slices.Clone(attributes)
		obj.owner.post(func(a Ambassador) { a.ProvideAttributeValueUpdate(handle, attrs) })
	}
	return nil
}

// Close resigns if still joined and stops callback delivery. Already queued
// callbacks are still delivered.
func (c *Conn) Close() error {
	c.hub.mu.Lock()
	if c.closed {
		c.hub.mu.Unlock()
		return nil
	}
	if c.m != nil {
		c.leave()
	}
	c.closed = true
	c.hub.mu.Unlock()
	c.queue.Close()
	return nil
}

// Drop simulates a lost connection: the federate is removed, its ambassador
// is told why and every later call fails with ErrDisconnected.
func (c *Conn) Drop(reason string) {
	c.hub.mu.Lock()
	if c.closed {
		c.hub.mu.Unlock()
		return
	}
	amb := Ambassador(nil)
	if c.m != nil {
		amb = c.m.amb
		c.leave()
	}
	c.closed = true
	c.hub.mu.Unlock()
	if amb != nil {
		c.queue.Post(func() { amb.ConnectionLost(reason) })
	}
	c.queue.Close()
}

func setOf(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}

func sortedKeys[K ~string, V any](m map[K]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	slices.Sort(keys)
	return keys
}
