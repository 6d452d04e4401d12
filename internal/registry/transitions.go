package registry

// transitions is the directed graph of permitted status edges. Any edge not
// listed here is stale or out of order and must be discarded by the caller.
var transitions = map[Status][]Status{
	StatusPending:          {StatusCreateInProgress, StatusDeleteInProgress},
	StatusCreateInProgress: {StatusCreateComplete, StatusCreateFailed, StatusDeleteInProgress},
	StatusCreateComplete:   {StatusUpdateInProgress, StatusDeleteInProgress},
	StatusCreateFailed:     {StatusDeleteInProgress},
	StatusUpdateInProgress: {StatusUpdateComplete, StatusUpdateFailed, StatusDeleteInProgress},
	StatusUpdateComplete:   {StatusUpdateInProgress, StatusDeleteInProgress},
	StatusUpdateFailed:     {StatusUpdateInProgress, StatusDeleteInProgress},
	StatusDeleteInProgress: {StatusDeleteComplete, StatusDeleteFailed},
	StatusDeleteFailed:     {StatusDeleteInProgress},
	StatusDeleteComplete:   {},
}

// ValidTransition reports whether from -> to is a permitted edge.
func ValidTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// KnownStatus reports whether s is one of the defined status values.
func KnownStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}
