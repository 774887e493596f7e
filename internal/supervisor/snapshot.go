package supervisor

import (
	"time"

	"github.com/loykin/sitter/internal/state"
)

// Snapshot is an immutable view of the state table published after every
// tick. It is the only way to observe supervision state from outside the
// loop goroutine.
type Snapshot struct {
	Host          string          `json:"host"`
	Tick          uint64          `json:"tick"`
	TickID        string          `json:"tick_id,omitempty"`
	At            time.Time       `json:"at"`
	LastHeartbeat *time.Time      `json:"last_heartbeat,omitempty"`
	MaxRetries    int             `json:"max_retries"`
	Services      []ServiceStatus `json:"services"`
}

// ServiceStatus is a record together with its derived state.
type ServiceStatus struct {
	state.Record
	State state.State `json:"state"`
}

// Service looks up one service by name.
func (s *Snapshot) Service(name string) (ServiceStatus, bool) {
	for _, st := range s.Services {
		if st.Name == name {
			return st, true
		}
	}
	return ServiceStatus{}, false
}

// Counts returns how many services are running and how many are not.
func (s *Snapshot) Counts() (running, down int) {
	for _, st := range s.Services {
		if st.Running {
			running++
		} else {
			down++
		}
	}
	return running, down
}

func (l *Loop) publish(tickID string) {
	recs := l.table.Snapshot()
	snap := &Snapshot{
		Host:       l.cfg.Hostname,
		Tick:       l.ticks,
		TickID:     tickID,
		At:         l.clock.Now(),
		MaxRetries: l.cfg.MaxRetries,
		Services:   make([]ServiceStatus, len(recs)),
	}
	if !l.lastHeartbeat.IsZero() {
		hb := l.lastHeartbeat
		snap.LastHeartbeat = &hb
	}
	for i, r := range recs {
		snap.Services[i] = ServiceStatus{Record: r, State: r.State(l.cfg.MaxRetries)}
	}
	l.current.Store(snap)

	l.subMu.Lock()
	defer l.subMu.Unlock()
	for ch := range l.subs {
		// Keep only the newest snapshot for slow readers.
		select {
		case ch <- *snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- *snap:
			default:
			}
		}
	}
}

// Snapshot returns the most recently published snapshot.
func (l *Loop) Snapshot() Snapshot {
	return *l.current.Load()
}

// Subscribe returns a channel receiving every published snapshot. Slow
// readers only see the latest one. The channel is closed when the loop
// stops or cancel is called.
func (l *Loop) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	l.subMu.Lock()
	if l.stopped {
		close(ch)
		l.subMu.Unlock()
		return ch, func() {}
	}
	l.subs[ch] = struct{}{}
	l.subMu.Unlock()
	return ch, func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		if _, ok := l.subs[ch]; ok {
			delete(l.subs, ch)
			close(ch)
		}
	}
}

func (l *Loop) closeSubscribers() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	l.stopped = true
	for ch := range l.subs {
		delete(l.subs, ch)
		close(ch)
	}
}
