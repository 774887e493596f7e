package state

import (
	"errors"
	"fmt"
)

// State is the derived health classification of a service record.
type State string

const (
	StateHealthy             State = "healthy"
	StateRetrying            State = "retrying"
	StateExhaustedUnnotified State = "exhausted_unnotified"
	StateExhaustedNotified   State = "exhausted_notified"
)

// Action is what the supervisor must do after observing a service as inactive.
type Action int

const (
	// ActionNone means the service is exhausted and the operator was already alerted.
	ActionNone Action = iota
	// ActionRestart means the restart budget still allows another attempt.
	ActionRestart
	// ActionAlert means the budget is exhausted and no alert has been delivered yet.
	ActionAlert
)

func (a Action) String() string {
	switch a {
	case ActionRestart:
		return "restart"
	case ActionAlert:
		return "alert"
	default:
		return "none"
	}
}

var (
	ErrNoServices     = errors.New("at least one service is required")
	ErrUnknownService = errors.New("unknown service")
)

// Record is the bookkeeping kept for one supervised service.
// Records are only mutated through Table methods.
type Record struct {
	Name       string `json:"name"`
	RetryCount int    `json:"retry_count"`
	Notified   bool   `json:"notified"`
	Running    bool   `json:"running"`
}

// State classifies the record against the restart budget.
func (r Record) State(maxRetries int) State {
	switch {
	case r.RetryCount == 0:
		return StateHealthy
	case r.RetryCount < maxRetries:
		return StateRetrying
	case r.Notified:
		return StateExhaustedNotified
	default:
		return StateExhaustedUnnotified
	}
}

// Exhausted reports whether no further restarts may be attempted.
func (r Record) Exhausted(maxRetries int) bool { return r.RetryCount >= maxRetries }

// Table holds one Record per configured service. The set of names is fixed
// at construction. A Table is not safe for concurrent use; it belongs to the
// goroutine running the supervisor loop.
type Table struct {
	maxRetries int
	order      []string
	records    map[string]*Record
}

// New builds a table with every service in the HEALTHY state and running=false.
func New(names []string, maxRetries int) (*Table, error) {
	if len(names) == 0 {
		return nil, ErrNoServices
	}
	if maxRetries <= 0 {
		return nil, fmt.Errorf("max retries must be positive, got %d", maxRetries)
	}
	t := &Table{
		maxRetries: maxRetries,
		order:      make([]string, 0, len(names)),
		records:    make(map[string]*Record, len(names)),
	}
	for _, n := range names {
		if n == "" {
			return nil, errors.New("service name must not be empty")
		}
		if _, dup := t.records[n]; dup {
			return nil, fmt.Errorf("duplicate service %q", n)
		}
		t.order = append(t.order, n)
		t.records[n] = &Record{Name: n}
	}
	return t, nil
}

func (t *Table) MaxRetries() int { return t.maxRetries }

// Names returns the services in configured order.
func (t *Table) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Record returns a copy of the named record.
func (t *Table) Record(name string) (Record, error) {
	r, ok := t.records[name]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return *r, nil
}

// Snapshot returns copies of all records in configured order.
func (t *Table) Snapshot() []Record {
	out := make([]Record, 0, len(t.order))
	for _, n := range t.order {
		out = append(out, *t.records[n])
	}
	return out
}

// Plan decides the action for a service that was just observed inactive.
func (t *Table) Plan(name string) (Action, error) {
	r, err := t.get(name)
	if err != nil {
		return ActionNone, err
	}
	if r.RetryCount < t.maxRetries {
		return ActionRestart, nil
	}
	if !r.Notified {
		return ActionAlert, nil
	}
	return ActionNone, nil
}

// MarkActive records a confirmed-active observation, from a routine check or
// after a restart. It is the only transition back to HEALTHY.
func (t *Table) MarkActive(name string) error {
	r, err := t.get(name)
	if err != nil {
		return err
	}
	r.RetryCount = 0
	r.Notified = false
	r.Running = true
	return nil
}

// MarkRestartFailed records a failed restart attempt: either the restart call
// failed or the service died before confirmation.
func (t *Table) MarkRestartFailed(name string) error {
	r, err := t.get(name)
	if err != nil {
		return err
	}
	if r.RetryCount < t.maxRetries {
		r.RetryCount++
	}
	r.Notified = false
	r.Running = false
	return nil
}

// MarkAlerted records a delivered exhaustion alert.
func (t *Table) MarkAlerted(name string) error {
	r, err := t.get(name)
	if err != nil {
		return err
	}
	r.Notified = true
	r.Running = false
	return nil
}

// MarkAlertFailed records an undelivered exhaustion alert; the next tick retries it.
func (t *Table) MarkAlertFailed(name string) error {
	r, err := t.get(name)
	if err != nil {
		return err
	}
	r.Notified = false
	r.Running = false
	return nil
}

// Partition splits service names by their last known running flag,
// preserving configured order.
func (t *Table) Partition() (running, down []string) {
	for _, n := range t.order {
		if t.records[n].Running {
			running = append(running, n)
		} else {
			down = append(down, n)
		}
	}
	return running, down
}

func (t *Table) get(name string) (*Record, error) {
	r, ok := t.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return r, nil
}
