package scheduler

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// State is the lifecycle position of a node's most recent rebuild task.
type State int32

const (
	// Pending indicates the task waits for predecessors in its pass.
	Pending State = iota
	// ResolvingInputs indicates input values are being gathered.
	ResolvingInputs
	// Processing indicates the node's processor is running.
	Processing
	// Committing indicates outputs are being written and recorded.
	Committing
	// Done indicates the last rebuild committed successfully.
	Done
	// Failed indicates the last rebuild ended in an error or was skipped.
	Failed
)

var stateNames = map[State]string{
	Pending:         "pending",
	ResolvingInputs: "resolving_inputs",
	Processing:      "processing",
	Committing:      "committing",
	Done:            "done",
	Failed:          "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// NodeStatus is the externally visible rebuild status of one node, surfaced
// through the control surface's status queries.
type NodeStatus struct {
	NodeID    string    `json:"node_id"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// statusBoard tracks the latest NodeStatus per node. Rebuild failures are
// asynchronous; this board is how they become visible to callers.
type statusBoard struct {
	mu       sync.RWMutex
	statuses map[string]NodeStatus
}

func newStatusBoard() *statusBoard {
	return &statusBoard{statuses: make(map[string]NodeStatus)}
}

func (b *statusBoard) set(id string, state State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[id] = NodeStatus{NodeID: id, State: state, UpdatedAt: time.Now()}
}

func (b *statusBoard) fail(id string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[id] = NodeStatus{NodeID: id, State: Failed, Error: err.Error(), UpdatedAt: time.Now()}
}

func (b *statusBoard) get(id string) (NodeStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.statuses[id]
	return st, ok
}

func (b *statusBoard) all() []NodeStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]NodeStatus, 0, len(b.statuses))
	for _, st := range b.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func (b *statusBoard) forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.statuses, id)
}
