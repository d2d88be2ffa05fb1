package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusCancelled: true, StatusFailed: true},
	StatusPaid:      {},
	StatusCancelled: {},
	StatusFailed:    {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// sourcesOf lists the statuses an order may move to `to` from.
func sourcesOf(to Status) []string {
	var out []string
	for from, next := range validNext {
		if next[to] {
			out = append(out, string(from))
		}
	}
	return out
}
