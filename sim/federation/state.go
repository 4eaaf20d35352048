package federation

import "fmt"

// State is the federate lifecycle position.
type State int

const (
	Disconnected State = iota
	Connecting
	Joined
	TimeManaged
	AwaitingInitialSync
	Advancing
	Saving
	Restoring
)

var stateNames = [...]string{
	Disconnected:        "Disconnected",
	Connecting:          "Connecting",
	Joined:              "Joined",
	TimeManaged:         "TimeManaged",
	AwaitingInitialSync: "AwaitingInitialSync",
	Advancing:           "Advancing",
	Saving:              "Saving",
	Restoring:           "Restoring",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}
