package connection

import "time"

// State is the lifecycle of the managed socket.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// EventKind discriminates Event.
type EventKind int

const (
	// EventState reports a lifecycle transition.
	EventState EventKind = iota
	// EventFrame carries one inbound text frame.
	EventFrame
	// EventError reports a transport failure; an EventState to
	// StateDisconnected always follows.
	EventError
)

// Event is one item of the manager's sequential inbound stream.
type Event struct {
	Kind  EventKind
	State State
	Data  []byte
	Err   error
}

// ReconnectPolicy controls retries after a transport failure. The zero
// Multiplier (or 1) keeps the delay constant.
type ReconnectPolicy struct {
	Delay       time.Duration
	MaxAttempts int // 0 retries forever
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultReconnectPolicy retries every 3 seconds, forever.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Delay:      3 * time.Second,
		Multiplier: 1,
		MaxDelay:   30 * time.Second,
	}
}

// delayFor returns the wait before retry number attempt (1-based) and
// whether that attempt is allowed at all.
func (p ReconnectPolicy) delayFor(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}
	d := p.Delay
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				d = p.MaxDelay
				break
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d, true
}
