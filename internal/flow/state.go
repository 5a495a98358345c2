package flow

// State is a step of the authorization code flow.
type State int

const (
	StateRequestReceived State = iota
	StateAwaitingLogin
	StateAwaitingConsent
	StateCodeIssued
	StateExchanged
	StateExpired
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateRequestReceived:
		return "RequestReceived"
	case StateAwaitingLogin:
		return "AwaitingLogin"
	case StateAwaitingConsent:
		return "AwaitingConsent"
	case StateCodeIssued:
		return "CodeIssued"
	case StateExchanged:
		return "Exchanged"
	case StateExpired:
		return "Expired"
	case StateDenied:
		return "Denied"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateExchanged || s == StateExpired || s == StateDenied
}
