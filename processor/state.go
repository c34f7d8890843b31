package processor

// TableState is the position of one table in its sync pipeline.
type TableState int

const (
	StateInit TableState = iota
	StateIntrospecting
	StateProvisioning
	StateSyncing
	StateVerifying
	StateDone
	StateFailed
)

func (s TableState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateIntrospecting:
		return "Introspecting"
	case StateProvisioning:
		return "Provisioning"
	case StateSyncing:
		return "Syncing"
	case StateVerifying:
		return "Verifying"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// next reports whether the pipeline may move from s to to. Failed is reachable from every
// state that is not terminal.
func (s TableState) next(to TableState) bool {
	if s == StateDone || s == StateFailed {
		return false
	}
	if to == StateFailed {
		return true
	}
	return to == s+1
}
