// Package wsrti carries the rti API over websockets. A Server hosts an
// rti.Hub; each Client connection is one federate.
//
// Every message is one JSON object. Requests carry id, op and args;
// responses echo the id with either a result or an error code; callbacks
// carry cb and args and are sent in the order the hub issued them.
package wsrti

import (
	"time"

	"github.com/code-lab-org/sipg-sub003/sim/rti"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
	pingInterval = 20 * time.Second
)

type envelope struct {
	ID       uint64 `json:"id,omitempty"`
	Op       string `json:"op,omitempty"`
	Callback string `json:"cb,omitempty"`
	Args     *args  `json:"args,omitempty"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

// args is shared by every request and callback; each uses a subset.
type args struct {
	Federation string              `json:"federation,omitempty"`
	Federate   string              `json:"federate,omitempty"`
	Type       string              `json:"type,omitempty"`
	Label      string              `json:"label,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Time       int64               `json:"time,omitempty"`
	Lookahead  int64               `json:"lookahead,omitempty"`
	Class      string              `json:"class,omitempty"`
	Name       string              `json:"name,omitempty"`
	Object     rti.ObjectHandle    `json:"object,omitempty"`
	Attributes []string            `json:"attributes,omitempty"`
	Values     rti.AttributeValues `json:"values,omitempty"`
}

// Request operations.
const (
	opCreateFederation            = "createFederation"
	opDestroyFederation           = "destroyFederation"
	opJoin                        = "join"
	opResign                      = "resign"
	opEnableTimeRegulation        = "enableTimeRegulation"
	opDisableTimeRegulation       = "disableTimeRegulation"
	opEnableTimeConstrained       = "enableTimeConstrained"
	opDisableTimeConstrained      = "disableTimeConstrained"
	opTimeAdvanceRequest          = "timeAdvanceRequest"
	opRegisterSyncPoint           = "registerSyncPoint"
	opSyncPointAchieved           = "syncPointAchieved"
	opRequestFederationSave       = "requestFederationSave"
	opFederateSaveBegun           = "federateSaveBegun"
	opFederateSaveComplete        = "federateSaveComplete"
	opFederateSaveNotComplete     = "federateSaveNotComplete"
	opRequestFederationRestore    = "requestFederationRestore"
	opFederateRestoreComplete     = "federateRestoreComplete"
	opPublishObjectClass          = "publishObjectClass"
	opSubscribeObjectClass        = "subscribeObjectClass"
	opRegisterObjectInstance      = "registerObjectInstance"
	opUpdateAttributeValues       = "updateAttributeValues"
	opRequestAttributeValueUpdate = "requestAttributeValueUpdate"
)

// Callback names.
const (
	cbSyncPointRegistrationSucceeded    = "syncPointRegistrationSucceeded"
	cbSyncPointRegistrationFailed       = "syncPointRegistrationFailed"
	cbAnnounceSyncPoint                 = "announceSyncPoint"
	cbFederationSynchronized            = "federationSynchronized"
	cbInitiateFederateSave              = "initiateFederateSave"
	cbFederationSaved                   = "federationSaved"
	cbFederationNotSaved                = "federationNotSaved"
	cbRequestFederationRestoreSucceeded = "requestFederationRestoreSucceeded"
	cbRequestFederationRestoreFailed    = "requestFederationRestoreFailed"
	cbFederationRestoreBegun            = "federationRestoreBegun"
	cbInitiateFederateRestore           = "initiateFederateRestore"
	cbFederationRestored                = "federationRestored"
	cbFederationNotRestored             = "federationNotRestored"
	cbTimeRegulationEnabled             = "timeRegulationEnabled"
	cbTimeConstrainedEnabled            = "timeConstrainedEnabled"
	cbTimeAdvanceGrant                  = "timeAdvanceGrant"
	cbDiscoverObjectInstance            = "discoverObjectInstance"
	cbRemoveObjectInstance              = "removeObjectInstance"
	cbReflectAttributeValues            = "reflectAttributeValues"
	cbProvideAttributeValueUpdate       = "provideAttributeValueUpdate"
)
