package federation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/code-lab-org/sipg-sub003/sim/rti"
)

type registration int

const (
	regPending registration = iota
	regSucceeded
	regFailed
)

// objectEvent is a discovery, reflection or removal waiting for the driver.
type objectEvent struct {
	kind   eventKind
	obj    rti.ObjectHandle
	class  string
	name   string
	values rti.AttributeValues
	time   int64
}

type eventKind int

const (
	eventDiscover eventKind = iota
	eventReflect
	eventRemove
)

type provideRequest struct {
	obj        rti.ObjectHandle
	attributes []string
}

// ambassador records callbacks for the driver. Every change closes the
// current generation channel so waiters wake without polling.
type ambassador struct {
	mu      sync.Mutex
	changed chan struct{}

	regulating  bool
	constrained bool

	registrations map[string]registration
	announced     map[string]bool
	synchronized  map[string]int

	saveLabel  string
	saved      bool
	saveFailed string

	restoreRequest  map[string]registration
	restoreBegun    bool
	restoreLabel    string
	restored        bool
	restoreFailed   string
	granted         bool
	grantTime       int64
	lost            string
	fault           error
	inbox           []objectEvent
	provideRequests []provideRequest
}

var _ rti.Ambassador = (*ambassador)(nil)

func newAmbassador() *ambassador {
	return &ambassador{
		changed:        make(chan struct{}),
		registrations:  make(map[string]registration),
		announced:      make(map[string]bool),
		synchronized:   make(map[string]int),
		restoreRequest: make(map[string]registration),
	}
}

// update applies fn under the lock and wakes every waiter.
func (a *ambassador) update(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn()
	close(a.changed)
	a.changed = make(chan struct{})
}

// read runs fn under the lock.
func (a *ambassador) read(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn()
}

// wait blocks until cond holds. A protocol fault, a lost connection, ctx or
// the timeout end the wait early; cond is checked first so a condition met
// before the loss still succeeds.
func (a *ambassador) wait(ctx context.Context, timeout time.Duration, what string, cond func() bool) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		a.mu.Lock()
		if a.fault != nil {
			err := a.fault
			a.mu.Unlock()
			return err
		}
		if cond() {
			a.mu.Unlock()
			return nil
		}
		if a.lost != "" {
			lost := a.lost
			a.mu.Unlock()
			return fmt.Errorf("%w: waiting for %s: %s", rti.ErrDisconnected, what, lost)
		}
		changed := a.changed
		a.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: %s after %s", ErrWaitTimeout, what, timeout)
		}
	}
}

func knownSyncLabel(label string) bool {
	return label == rti.LabelInitialized || label == rti.LabelReset
}

func (a *ambassador) ConnectionLost(reason string) {
	if reason == "" {
		reason = "connection lost"
	}
	a.update(func() { a.lost = reason })
}

func (a *ambassador) SyncPointRegistrationSucceeded(label string) {
	a.update(func() { a.registrations[label] = regSucceeded })
}

func (a *ambassador) SyncPointRegistrationFailed(label, _ string) {
	a.update(func() { a.registrations[label] = regFailed })
}

func (a *ambassador) AnnounceSyncPoint(label string) {
	a.update(func() {
		if !knownSyncLabel(label) {
			a.fault = &ProtocolError{Callback: "AnnounceSyncPoint", Label: label}
			return
		}
		a.announced[label] = true
	})
}

func (a *ambassador) FederationSynchronized(label string) {
	a.update(func() {
		a.announced[label] = false
		a.synchronized[label]++
	})
}

func (a *ambassador) InitiateFederateSave(label string) {
	a.update(func() {
		if label != rti.LabelInitialState {
			a.fault = &ProtocolError{Callback: "InitiateFederateSave", Label: label}
			return
		}
		a.saveLabel = label
	})
}

func (a *ambassador) FederationSaved() {
	a.update(func() { a.saved = true })
}

func (a *ambassador) FederationNotSaved(reason string) {
	a.update(func() { a.saveFailed = reason })
}

func (a *ambassador) RequestFederationRestoreSucceeded(label string) {
	a.update(func() { a.restoreRequest[label] = regSucceeded })
}

func (a *ambassador) RequestFederationRestoreFailed(label string) {
	a.update(func() { a.restoreRequest[label] = regFailed })
}

func (a *ambassador) FederationRestoreBegun() {
	a.update(func() { a.restoreBegun = true })
}

func (a *ambassador) InitiateFederateRestore(label, _ string) {
	a.update(func() {
		if label != rti.LabelInitialState {
			a.fault = &ProtocolError{Callback: "InitiateFederateRestore", Label: label}
			return
		}
		a.restoreLabel = label
	})
}

func (a *ambassador) FederationRestored() {
	a.update(func() { a.restored = true })
}

func (a *ambassador) FederationNotRestored(reason string) {
	a.update(func() { a.restoreFailed = reason })
}

func (a *ambassador) TimeRegulationEnabled(int64) {
	a.update(func() { a.regulating = true })
}

func (a *ambassador) TimeConstrainedEnabled(int64) {
	a.update(func() { a.constrained = true })
}

func (a *ambassador) TimeAdvanceGrant(t int64) {
	a.update(func() { a.granted, a.grantTime = true, t })
}

func (a *ambassador) DiscoverObjectInstance(obj rti.ObjectHandle, class, name string) {
	a.update(func() {
		a.inbox = append(a.inbox, objectEvent{kind: eventDiscover, obj: obj, class: class, name: name})
	})
}

func (a *ambassador) RemoveObjectInstance(obj rti.ObjectHandle) {
	a.update(func() {
		a.inbox = append(a.inbox, objectEvent{kind: eventRemove, obj: obj})
	})
}

func (a *ambassador) ReflectAttributeValues(obj rti.ObjectHandle, values rti.AttributeValues, t int64) {
	a.update(func() {
		a.inbox = append(a.inbox, objectEvent{kind: eventReflect, obj: obj, values: values, time: t})
	})
}

func (a *ambassador) ProvideAttributeValueUpdate(obj rti.ObjectHandle, attributes []string) {
	a.update(func() {
		a.provideRequests = append(a.provideRequests, provideRequest{obj: obj, attributes: attributes})
	})
}

