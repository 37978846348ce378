package calls

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDeclined  Status = "declined"
)

var statusRank = map[Status]int{
	StatusInitiated: 0,
	StatusRinging:   1,
	StatusAnswered:  2,
	StatusCompleted: 3,
	StatusFailed:    3,
	StatusDeclined:  3,
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDeclined
}

// CanAdvanceTo reports whether moving from s to next is a forward step.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	return statusRank[next] > statusRank[s]
}
