package chain

import "github.com/ethereum/go-ethereum/common"

// Event is anything a contract emits.
type Event interface {
	EventName() string
}

// Log is an emitted event with its emitter.
type Log struct {
	Address common.Address
	Index   int
	Event   Event
}

// Receipt summarizes a committed unit of work.
type Receipt struct {
	Block uint64
	Time  uint64
	From  common.Address
	Logs  []Log
}

// FindEvent returns the first event of type T in the receipt.
func FindEvent[T Event](r *Receipt) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	for _, l := range r.Logs {
		if ev, ok := l.Event.(T); ok {
			return ev, true
		}
	}
	return zero, false
}

// FindEvents returns every event of type T in the receipt, in emission order.
func FindEvents[T Event](r *Receipt) []T {
	if r == nil {
		return nil
	}
	var out []T
	for _, l := range r.Logs {
		if ev, ok := l.Event.(T); ok {
			out = append(out, ev)
		}
	}
	return out
}
