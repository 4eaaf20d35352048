// Package rti defines the runtime-infrastructure abstraction federates use to
// coordinate: federation membership, conservative time management,
// synchronization points, save/restore and object publish/subscribe.
//
// The API follows the HLA federate/RTI split. Calls on RTI return once the
// request is accepted; outcomes arrive later as Ambassador callbacks, which
// are delivered in order on one goroutine per federate.
//
// Hub is an in-process implementation; sim/rti/wsrti carries the same API
// over websockets.
package rti

import "context"

// Synchronization point labels used by the co-simulation lifecycle.
const (
	LabelInitialized  = "initialized"
	LabelInitialState = "initialState"
	LabelReset        = "reset"
)

// ObjectHandle identifies a registered object instance within a federation.
type ObjectHandle string

// AttributeValues maps attribute names to encoded values.
type AttributeValues map[string][]byte

// Clone returns a deep copy.
func (a AttributeValues) Clone() AttributeValues {
	c := make(AttributeValues, len(a))
	for k, v := range a {
		c[k] = append([]byte(nil), v...)
	}
	return c
}

// RTI is the federate-facing side of the runtime infrastructure. One RTI
// value represents one federate connection.
type RTI interface {
	CreateFederation(ctx context.Context, federation string) error
	DestroyFederation(ctx context.Context, federation string) error
	// Join returns the federate handle assigned by the RTI.
	Join(ctx context.Context, federation, federateName, federateType string, amb Ambassador) (string, error)
	Resign(ctx context.Context) error

	EnableTimeRegulation(ctx context.Context, lookahead int64) error
	DisableTimeRegulation(ctx context.Context) error
	EnableTimeConstrained(ctx context.Context) error
	DisableTimeConstrained(ctx context.Context) error
	TimeAdvanceRequest(ctx context.Context, t int64) error

	RegisterSyncPoint(ctx context.Context, label string) error
	SyncPointAchieved(ctx context.Context, label string) error

	RequestFederationSave(ctx context.Context, label string) error
	FederateSaveBegun(ctx context.Context) error
	FederateSaveComplete(ctx context.Context) error
	FederateSaveNotComplete(ctx context.Context) error
	RequestFederationRestore(ctx context.Context, label string) error
	FederateRestoreComplete(ctx context.Context) error

	PublishObjectClass(ctx context.Context, class string, attributes []string) error
	SubscribeObjectClass(ctx context.Context, class string, attributes []string) error
	RegisterObjectInstance(ctx context.Context, class, name string) (ObjectHandle, error)
	UpdateAttributeValues(ctx context.Context, obj ObjectHandle, values AttributeValues, t int64) error
	RequestAttributeValueUpdate(ctx context.Context, class string, attributes []string) error

	// Close releases the connection without resigning.
	Close() error
}

// Ambassador receives RTI callbacks. Implementations must not call back into
// the RTI from a callback; they record the event and return.
type Ambassador interface {
	ConnectionLost(reason string)

	SyncPointRegistrationSucceeded(label string)
	SyncPointRegistrationFailed(label, reason string)
	AnnounceSyncPoint(label string)
	FederationSynchronized(label string)

	InitiateFederateSave(label string)
	FederationSaved()
	FederationNotSaved(reason string)

	RequestFederationRestoreSucceeded(label string)
	RequestFederationRestoreFailed(label string)
	FederationRestoreBegun()
	InitiateFederateRestore(label, federate string)
	FederationRestored()
	FederationNotRestored(reason string)

	TimeRegulationEnabled(t int64)
	TimeConstrainedEnabled(t int64)
	TimeAdvanceGrant(t int64)

	DiscoverObjectInstance(obj ObjectHandle, class, name string)
	RemoveObjectInstance(obj ObjectHandle)
	ReflectAttributeValues(obj ObjectHandle, values AttributeValues, t int64)
	ProvideAttributeValueUpdate(obj ObjectHandle, attributes []string)
}

// NopAmbassador ignores every callback. Embed it to implement a subset.
type NopAmbassador struct{}

func (NopAmbassador) ConnectionLost(string)                                       {}
func (NopAmbassador) SyncPointRegistrationSucceeded(string)                       {}
func (NopAmbassador) SyncPointRegistrationFailed(string, string)                  {}
func (NopAmbassador) AnnounceSyncPoint(string)                                    {}
func (NopAmbassador) FederationSynchronized(string)                               {}
func (NopAmbassador) InitiateFederateSave(string)                                 {}
func (NopAmbassador) FederationSaved()                                            {}
func (NopAmbassador) FederationNotSaved(string)                                   {}
func (NopAmbassador) RequestFederationRestoreSucceeded(string)                    {}
func (NopAmbassador) RequestFederationRestoreFailed(string)                       {}
func (NopAmbassador) FederationRestoreBegun()                                     {}
func (NopAmbassador) InitiateFederateRestore(string, string)                      {}
func (NopAmbassador) FederationRestored()                                         {}
func (NopAmbassador) FederationNotRestored(string)                                {}
func (NopAmbassador) TimeRegulationEnabled(int64)                                 {}
func (NopAmbassador) TimeConstrainedEnabled(int64)                                {}
func (NopAmbassador) TimeAdvanceGrant(int64)                                      {}
func (NopAmbassador) DiscoverObjectInstance(ObjectHandle, string, string)         {}
func (NopAmbassador) RemoveObjectInstance(ObjectHandle)                           {}
func (NopAmbassador) ReflectAttributeValues(ObjectHandle, AttributeValues, int64) {}
func (NopAmbassador) ProvideAttributeValueUpdate(ObjectHandle, []string)          {}
