// Package reconcile implements the admission filter a chat client runs
// against the broadcast stream: display each message id at most once,
// and drop redelivered messages that a later message has superseded.
package reconcile

import (
	"sync"
	"time"
)

// Scope is the id-namespace over which deduplication is tracked. Public
// chat is one scope; each private counterpart is its own.
type Scope string

// Public is the scope for room-wide messages.
const Public Scope = "public"

// PrivateWith returns the scope for the conversation with a counterpart.
func PrivateWith(username string) Scope {
	return Scope("private:" + username)
}

// Entry is a message as seen by the admission filter.
type Entry struct {
	ID        int64
	CreatedAt time.Time
}

type scopeState struct {
	seen map[int64]struct{}
	last time.Time
}

// Reconciler tracks per-scope seen ids and a last-accepted-timestamp
// cursor. The zero-value is not usable; create one with New.
type Reconciler struct {
	mu     sync.Mutex
	scopes map[Scope]*scopeState
}

// New creates an empty Reconciler.
func New() *Reconciler {
	return &Reconciler{scopes: make(map[Scope]*scopeState)}
}

func (r *Reconciler) state(s Scope) *scopeState {
	st, ok := r.scopes[s]
	if !ok {
		st = &scopeState{seen: make(map[int64]struct{})}
		r.scopes[s] = st
	}
	return st
}

// Offer decides whether a streamed message should be displayed. It is
// accepted only if its id has not been seen in the scope and its
// timestamp strictly exceeds the scope's cursor; acceptance records the
// id and advances the cursor.
func (r *Reconciler) Offer(s Scope, e Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(s)
	if _, dup := st.seen[e.ID]; dup {
		return false
	}
	if !e.CreatedAt.After(st.last) {
		return false
	}
	st.seen[e.ID] = struct{}{}
	st.last = e.CreatedAt
	return true
}

// Reset replaces the scope's state with a freshly loaded history: the
// seen-set becomes exactly the history's ids and the cursor its latest
// timestamp. A history load therefore always wins over stream state.
func (r *Reconciler) Reset(s Scope, history []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := &scopeState{seen: make(map[int64]struct{}, len(history))}
	for _, e := range history {
		st.seen[e.ID] = struct{}{}
		if e.CreatedAt.After(st.last) {
			st.last = e.CreatedAt
		}
	}
	r.scopes[s] = st
}

// Seen reports whether the id has been displayed in the scope.
func (r *Reconciler) Seen(s Scope, id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.scopes[s]
	if !ok {
		return false
	}
	_, dup := st.seen[id]
	return dup
}
