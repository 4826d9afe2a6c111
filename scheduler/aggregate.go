package scheduler

// Aggregate folds per-attempt liveness into one verdict. Exclusive requires
// every attempt to be up; inclusive is satisfied by any attempt being up.
type Aggregate struct {
	exclusive bool
	up        bool
	attempts  uint64
}

func NewAggregate(exclusive bool) *Aggregate {
	return &Aggregate{
		exclusive: exclusive,
		up:        exclusive,
	}
}

func (a *Aggregate) Fold(up bool) {
	if a.exclusive {
		a.up = a.up && up
	} else {
		a.up = a.up || up
	}
	a.attempts++
}

func (a *Aggregate) Up() bool {
	return a.up
}

func (a *Aggregate) Attempts() uint64 {
	return a.attempts
}
