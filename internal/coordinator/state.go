package coordinator

// State is the lifecycle state of a Coordinator
type State int

const (
	StateIdle State = iota
	StateFetching
	StateSubscribing
	StateActive
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateFetching:    "fetching",
	StateSubscribing: "subscribing",
	StateActive:      "active",
	StateFailed:      "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// canStart reports whether Start may be called from s
func (s State) canStart() bool {
	return s == StateIdle || s == StateFailed
}

func allStateNames() []string {
	return []string{"idle", "fetching", "subscribing", "active", "failed"}
}
