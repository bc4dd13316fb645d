package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

type taskStats struct {
	active    int
	starts    int
	restarts  int
	panics    int
	lastStart time.Time
	lastErr   string
}

// TaskStatus is a point-in-time view of one named task, reported by the
// health endpoint.
type TaskStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Starts    int       `json:"starts"`
	Restarts  int       `json:"restarts"`
	Panics    int       `json:"panics"`
	LastStart time.Time `json:"last_start"`
	LastError string    `json:"last_error,omitempty"`
}

func (s *Supervisor) stat(name string) *taskStats {
	st := s.tasks[name]
	if st == nil {
		st = &taskStats{}
		s.tasks[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string, restart bool) {
	now := time.Now()
	s.mu.Lock()
	st := s.stat(name)
	st.active++
	st.starts++
	if restart {
		st.restarts++
	}
	st.lastStart = now
	s.mu.Unlock()
}

func (s *Supervisor) noteStop(name string, err error) {
	s.mu.Lock()
	st := s.stat(name)
	if st.active > 0 {
		st.active--
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		st.lastErr = err.Error()
	}
	s.mu.Unlock()
}

func (s *Supervisor) notePanic(name string, p any) {
	s.mu.Lock()
	s.stat(name).panics++
	s.stat(name).lastErr = fmt.Sprint("panic: ", p)
	s.mu.Unlock()
}

// Tasks returns the status of every task ever started, sorted by name.
func (s *Supervisor) Tasks() []TaskStatus {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for name, st := range s.tasks {
		out = append(out, TaskStatus{
			Name:      name,
			Running:   st.active > 0,
			Starts:    st.starts,
			Restarts:  st.restarts,
			Panics:    st.panics,
			LastStart: st.lastStart,
			LastError: st.lastErr,
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
