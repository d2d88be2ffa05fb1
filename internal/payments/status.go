package payments

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusPending   Status = "PENDING"
	StatusInProcess Status = "IN_PROCESS" // sub-state of PENDING
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

var terminal = map[Status]bool{
	StatusApproved:  true,
	StatusRejected:  true,
	StatusCancelled: true,
	StatusExpired:   true,
}

var validNext = map[Status]map[Status]bool{
	StatusCreated:   {StatusPending: true, StatusInProcess: true, StatusApproved: true, StatusRejected: true, StatusCancelled: true, StatusExpired: true},
	StatusPending:   {StatusInProcess: true, StatusApproved: true, StatusRejected: true, StatusCancelled: true, StatusExpired: true},
	StatusInProcess: {StatusPending: true, StatusApproved: true, StatusRejected: true, StatusCancelled: true, StatusExpired: true},
	StatusApproved:  {},
	StatusRejected:  {},
	StatusCancelled: {},
	StatusExpired:   {},
}

func (s Status) Terminal() bool { return terminal[s] }

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Waiting reports whether the provider has not decided yet.
func (s Status) Waiting() bool { return s == StatusPending || s == StatusInProcess }

// CanTransition reports whether from -> to is a legal move. Terminal states never move.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
