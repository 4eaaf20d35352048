// Package rtitest provides an ambassador that records callbacks as text,
// for tests of RTI implementations.
package rtitest

import (
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/code-lab-org/sipg-sub003/sim/rti"
)

// Timeout bounds how long Next waits for a callback.
const Timeout = 2 * time.Second

// Recorder turns every callback into one event line, in delivery order.
type Recorder struct {
	events chan string
}

var _ rti.Ambassador = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{events: make(chan string, 256)}
}

func (r *Recorder) add(format string, args ...any) {
	r.events <- fmt.Sprintf(format, args...)
}

// Next returns the next event, failing the test after Timeout.
func (r *Recorder) Next(t testing.TB) string {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(Timeout):
		t.Fatalf("no callback within %s", Timeout)
		return ""
	}
}

// Expect consumes events in order and fails on the first mismatch.
func (r *Recorder) Expect(t testing.TB, want ...string) {
	t.Helper()
	for _, w := range want {
		if got := r.Next(t); got != w {
			t.Fatalf("callback = %q, want %q", got, w)
		}
	}
}

// ExpectNone fails if any event arrives within d.
func (r *Recorder) ExpectNone(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case e := <-r.events:
		t.Fatalf("unexpected callback %q", e)
	case <-time.After(d):
	}
}

// Values renders attribute values as sorted name=value pairs.
func Values(v rti.AttributeValues) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + string(v[k])
	}
	return strings.Join(parts, ",")
}

func (r *Recorder) ConnectionLost(reason string) { r.add("lost %s", reason) }

func (r *Recorder) SyncPointRegistrationSucceeded(label string) { r.add("sync-ok %s", label) }
func (r *Recorder) SyncPointRegistrationFailed(label, _ string) { r.add("sync-fail %s", label) }
func (r *Recorder) AnnounceSyncPoint(label string)              { r.add("announce %s", label) }
func (r *Recorder) FederationSynchronized(label string)         { r.add("synchronized %s", label) }

func (r *Recorder) InitiateFederateSave(label string) { r.add("save %s", label) }
func (r *Recorder) FederationSaved()                  { r.add("saved") }
func (r *Recorder) FederationNotSaved(reason string)  { r.add("not-saved %s", reason) }

func (r *Recorder) RequestFederationRestoreSucceeded(label string) { r.add("restore-ok %s", label) }
func (r *Recorder) RequestFederationRestoreFailed(label string)    { r.add("restore-fail %s", label) }
func (r *Recorder) FederationRestoreBegun()                        { r.add("restore-begun") }
func (r *Recorder) InitiateFederateRestore(label, federate string) {
	r.add("restore %s %s", label, federate)
}
func (r *Recorder) FederationRestored()                 { r.add("restored") }
func (r *Recorder) FederationNotRestored(reason string) { r.add("not-restored %s", reason) }

func (r *Recorder) TimeRegulationEnabled(t int64)  { r.add("regulation %d", t) }
func (r *Recorder) TimeConstrainedEnabled(t int64) { r.add("constrained %d", t) }
func (r *Recorder) TimeAdvanceGrant(t int64)       { r.add("grant %d", t) }

func (r *Recorder) DiscoverObjectInstance(obj rti.ObjectHandle, class, name string) {
	r.add("discover %s %s %s", obj, class, name)
}
func (r *Recorder) RemoveObjectInstance(obj rti.ObjectHandle) { r.add("remove %s", obj) }
func (r *Recorder) ReflectAttributeValues(obj rti.ObjectHandle, v rti.AttributeValues, t int64) {
	r.add("reflect %s %s @%d", obj, Values(v), t)
}
func (r *Recorder) ProvideAttributeValueUpdate(obj rti.ObjectHandle, attrs []string) {
	r.add("provide %s %s", obj, strings.Join(attrs, ","))
}
