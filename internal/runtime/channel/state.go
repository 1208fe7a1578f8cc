package channel

import "fmt"

// State is the lifecycle state of a channel.
type State int32

const (
	Closed State = iota
	Opening
	Active
	Closing
	Error
	Destroy
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Opening:
		return "Opening"
	case Active:
		return "Active"
	case Closing:
		return "Closing"
	case Error:
		return "Error"
	case Destroy:
		return "Destroy"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	for st := Closed; st <= Destroy; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return Closed, fmt.Errorf("unknown state %q", s)
}
