package supervisor

// EventType labels supervisor lifecycle events.
type EventType string

const (
	Started EventType = "started"
	Stopped EventType = "stopped"
	Errored EventType = "error"
)

// Event reports one lifecycle transition of a supervised service.
type Event struct {
	Type     EventType
	Service  string
	PID      int
	ExitCode int
	Err      error
}

// Listener receives supervisor events. Listeners run on the supervisor's
// dispatch goroutine and must not call back into the supervisor.
type Listener func(Event)
