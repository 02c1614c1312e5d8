package session

// State is the connection lifecycle: Connecting -> Open -> Closed.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// JoinState tracks admission: Connecting -> AwaitingUsername -> Joined,
// or the terminal Rejected.
type JoinState int32

const (
	JoinConnecting JoinState = iota
	JoinAwaitingUsername
	JoinJoined
	JoinRejected
)

func (s JoinState) String() string {
	switch s {
	case JoinConnecting:
		return "connecting"
	case JoinAwaitingUsername:
		return "awaiting_username"
	case JoinJoined:
		return "joined"
	case JoinRejected:
		return "rejected"
	default:
		return "unknown"
	}
}
