package stream

// State is the lifecycle state of the logical stream connection
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateRetrying
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}
