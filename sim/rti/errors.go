package rti

import "errors"

var (
	ErrDisconnected          = errors.New("rti: not connected")
	ErrFederationExists      = errors.New("rti: federation already exists")
	ErrFederationNotExist    = errors.New("rti: federation does not exist")
	ErrFederatesJoined       = errors.New("rti: federates still joined")
	ErrAlreadyJoined         = errors.New("rti: federate already joined")
	ErrFederateNameInUse     = errors.New("rti: federate name in use")
	ErrNotJoined             = errors.New("rti: federate not joined")
	ErrTimeManagement        = errors.New("rti: invalid time management request")
	ErrSaveInProgress        = errors.New("rti: save in progress")
	ErrRestoreInProgress     = errors.New("rti: restore in progress")
	ErrNoSaveInProgress      = errors.New("rti: no save in progress")
	ErrNoRestoreInProgress   = errors.New("rti: no restore in progress")
	ErrSyncPointNotAnnounced = errors.New("rti: synchronization point not announced")
	ErrClassNotPublished     = errors.New("rti: object class not published")
	ErrObjectNameInUse       = errors.New("rti: object instance name in use")
	ErrObjectNotKnown        = errors.New("rti: object instance not known")
	ErrNotOwner              = errors.New("rti: attribute not owned")
)

// codes names every sentinel for transports that carry errors as strings.
var codes = map[string]error{
	"disconnected":             ErrDisconnected,
	"federation_exists":        ErrFederationExists,
	"federation_not_exist":     ErrFederationNotExist,
	"federates_joined":         ErrFederatesJoined,
	"already_joined":           ErrAlreadyJoined,
	"federate_name_in_use":     ErrFederateNameInUse,
	"not_joined":               ErrNotJoined,
	"time_management":          ErrTimeManagement,
	"save_in_progress":         ErrSaveInProgress,
	"restore_in_progress":      ErrRestoreInProgress,
	"no_save_in_progress":      ErrNoSaveInProgress,
	"no_restore_in_progress":   ErrNoRestoreInProgress,
	"sync_point_not_announced": ErrSyncPointNotAnnounced,
	"class_not_published":      ErrClassNotPublished,
	"object_name_in_use":       ErrObjectNameInUse,
	"object_not_known":         ErrObjectNotKnown,
	"not_owner":                ErrNotOwner,
}

// ErrorCode returns the wire code of the sentinel err wraps, or "internal".
func ErrorCode(err error) string {
	for code, sentinel := range codes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "internal"
}

// ErrorFromCode rebuilds an error received from a transport so that
// errors.Is matches the original sentinel.
func ErrorFromCode(code, msg string) error {
	if sentinel, ok := codes[code]; ok {
		if msg == "" || msg == sentinel.Error() {
			return sentinel
		}
		return &remoteError{sentinel: sentinel, msg: msg}
	}
	return errors.New(msg)
}

// remoteError keeps the remote message verbatim.
type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }
