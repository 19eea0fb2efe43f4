package session

// Status is the lifecycle position of one session agent.
type Status int

const (
	Anonymous Status = iota
	Authenticating
	Authenticated
	Refreshing
	LoggedOut
)

func (s Status) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	case LoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// HasSession reports whether the agent holds tokens in this status.
func (s Status) HasSession() bool {
	return s == Authenticating || s == Authenticated || s == Refreshing
}
