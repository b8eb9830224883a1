package broker

import (
	"cmp"
	"slices"
)

// Roster maps session ids to joined sessions. It is not safe for concurrent
// use; the Broker guards it.
type Roster struct {
	sessions map[string]Session
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{sessions: make(map[string]Session)}
}

// Put inserts or replaces the session keyed by its id.
func (r *Roster) Put(s Session) {
	r.sessions[s.ID] = s
}

// Get looks up a session by id.
func (r *Roster) Get(id string) (Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes a session and returns it. The boolean is false when the id
// was not present.
func (r *Roster) Remove(id string) (Session, bool) {
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// Len returns the number of joined sessions.
func (r *Roster) Len() int {
	return len(r.sessions)
}

// Snapshot returns a copy of all sessions ordered by join time, then id.
func (r *Roster) Snapshot() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Session) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
