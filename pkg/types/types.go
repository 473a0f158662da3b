package types

import (
	"time"
)

// WorkerName identifies a supervised worker in the registry
type WorkerName string

const (
	// WorkerEdge is the overlay network edge client, the only worker that
	// speaks the UDP management protocol
	WorkerEdge WorkerName = "edge"

	// WorkerBroadcast relays LAN broadcast traffic onto the overlay adapter
	WorkerBroadcast WorkerName = "broadcast"

	// WorkerFileServer serves a local directory to other members
	WorkerFileServer WorkerName = "fileserver"
)

// KnownWorkers lists every worker the supervisor knows how to launch
var KnownWorkers = []WorkerName{WorkerEdge, WorkerBroadcast, WorkerFileServer}

// Valid reports whether n names a known worker
func (n WorkerName) Valid() bool {
	for _, w := range KnownWorkers {
		if w == n {
			return true
		}
	}
	return false
}

func (n WorkerName) String() string {
	return string(n)
}

// Defaults used when a field is missing from edge or directory data
const (
	UnknownAddress = "None"
	UnknownName    = "None"
	UnknownMode    = "Unknown"
	DefaultName    = "Default"
	NoMode         = "None"
	UnsetAddress   = "0.0.0.0"
)

// Member is one participant of the overlay group
type Member struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Mode    string `json:"mode"`
}

// Equal compares all fields of two members
func (m Member) Equal(other Member) bool {
	return m.Address == other.Address && m.Name == other.Name && m.Mode == other.Mode
}

// DedupMembers removes structurally equal duplicates, keeping first occurrences
func DedupMembers(members []Member) []Member {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		dup := false
		for _, seen := range out {
			if seen.Equal(m) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	return out
}

// WorkerStatus is the externally visible state of a worker
type WorkerStatus struct {
	Name    WorkerName `json:"name"`
	Running bool       `json:"running"`
	PID     int        `json:"pid,omitempty"`
}

// RunRecord captures one launch of a worker process
type RunRecord struct {
	ID         string     `json:"id"`
	Worker     WorkerName `json:"worker"`
	PID        int        `json:"pid"`
	Path       string     `json:"path"`
	Args       []string   `json:"args"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  time.Time  `json:"stopped_at,omitempty"`
	ExitReason string     `json:"exit_reason,omitempty"`
}

// Active reports whether the run has not been closed out yet
func (r *RunRecord) Active() bool {
	return r.StoppedAt.IsZero()
}

// NATRecord captures one NAT classification attempt
type NATRecord struct {
	ID         string    `json:"id"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	Primary    string    `json:"primary"`
	Secondary  string    `json:"secondary"`
	DetectedAt time.Time `json:"detected_at"`
	Duration   string    `json:"duration"`
}
