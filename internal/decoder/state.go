package decoder

import "time"

// State represents the lifecycle state of a decode task.
type State string

// Task states.
const (
	StateIdle     State = "idle"     // created, goroutine not yet running
	StateStarting State = "starting" // opening the source
	StateRunning  State = "running"  // producing frames
	StateStopping State = "stopping" // stop requested
	StateStopped  State = "stopped"  // exited after a stop request or shutdown
	StateError    State = "error"    // aborted by an error
)

// Info is a snapshot of a decode task.
type Info struct {
	ID        string
	Path      string
	Format    string
	State     State
	Frames    uint64
	Loops     uint64
	StartedAt time.Time
	LastError error
}
