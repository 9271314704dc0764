// Package syncrouter implements the Sync Request Router: a GUID-keyed
// registry of outstanding SendAndWait callers, matching the response that
// eventually arrives (or the timeout/disconnect that preempts it) to the
// correct waiter.
//
// The structure mirrors the teacher's HTTP/2 StreamManager: a map guarded by
// a single mutex, with a periodic sweep removing entries whose deadline has
// passed, adapted here from stream-ID keys and state transitions to
// conversation-GUID keys and a one-shot deliver-or-expire outcome.
package syncrouter

import (
	"sync"
	"time"

	"github.com/corewire/tcpmsg/pkg/errors"
	"github.com/corewire/tcpmsg/pkg/frame"
)

// Result is what a waiter eventually receives: either a response header and
// payload, or an error (Timeout, PeerDisconnected, Cancelled).
type Result struct {
	Header  *frame.Header
	Payload []byte
	Err     error
}

// Waiter is a single parked SendAndWait call.
type Waiter struct {
	guid     string
	owner    string
	deadline time.Time
	done     chan Result
	once     sync.Once
}

// Wait blocks until the waiter is signaled or the deadline elapses,
// whichever comes first.
func (w *Waiter) Wait() Result {
	timer := time.NewTimer(time.Until(w.deadline))
	defer timer.Stop()
	select {
	case res := <-w.done:
		return res
	case <-timer.C:
		return Result{Err: errors.NewSyncTimeoutError(w.guid)}
	}
}

func (w *Waiter) signal(res Result) {
	w.once.Do(func() {
		w.done <- res
	})
}

// Router is the GUID-keyed waiter registry.
type Router struct {
	mu      sync.Mutex
	waiters map[string]*Waiter

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an empty Router.
func New() *Router {
	return &Router{
		waiters: make(map[string]*Waiter),
		stopCh:  make(chan struct{}),
	}
}

// Register parks a new waiter under guid, owned by owner (the session
// identity, used by DrainForConnection), with the given absolute deadline.
func (r *Router) Register(guid, owner string, deadline time.Time) *Waiter {
	w := &Waiter{
		guid:     guid,
		owner:    owner,
		deadline: deadline,
		done:     make(chan Result, 1),
	}
	r.mu.Lock()
	r.waiters[guid] = w
	r.mu.Unlock()
	return w
}

// Unregister removes guid without signaling anyone. Callers that already
// received and consumed a Result should call this to avoid a leaked map
// entry if they return before the next sweep.
func (r *Router) Unregister(guid string) {
	r.mu.Lock()
	delete(r.waiters, guid)
	r.mu.Unlock()
}

// Deliver matches a response frame to its waiter and signals it. Returns
// false if guid has no registered waiter (e.g. it already expired), in
// which case the caller should log and drop the frame rather than treat it
// as an error.
func (r *Router) Deliver(guid string, header *frame.Header, payload []byte) bool {
	r.mu.Lock()
	w, ok := r.waiters[guid]
	if ok {
		delete(r.waiters, guid)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	w.signal(Result{Header: header, Payload: payload})
	return true
}

// Expire sweeps the registry once, removing and signaling-as-timeout any
// waiter past its deadline. Intended to be called from a single periodic
// ticker at ≤1 Hz.
func (r *Router) Expire() {
	now := time.Now()

	var expired []*Waiter
	r.mu.Lock()
	for guid, w := range r.waiters {
		if now.After(w.deadline) {
			expired = append(expired, w)
			delete(r.waiters, guid)
		}
	}
	r.mu.Unlock()

	for _, w := range expired {
		w.signal(Result{Err: errors.NewSyncTimeoutError(w.guid)})
	}
}

// DrainForConnection signals every waiter owned by owner with a
// PeerDisconnected result. Called once per session on disconnect.
func (r *Router) DrainForConnection(owner string) {
	var owned []*Waiter
	r.mu.Lock()
	for guid, w := range r.waiters {
		if w.owner == owner {
			owned = append(owned, w)
			delete(r.waiters, guid)
		}
	}
	r.mu.Unlock()

	for _, w := range owned {
		w.signal(Result{Err: errors.NewPeerDisconnectedError(w.guid)})
	}
}

// DrainAll signals every outstanding waiter as Cancelled. Called once on
// endpoint shutdown.
func (r *Router) DrainAll() {
	r.mu.Lock()
	all := make([]*Waiter, 0, len(r.waiters))
	for guid, w := range r.waiters {
		all = append(all, w)
		delete(r.waiters, guid)
	}
	r.mu.Unlock()

	for _, w := range all {
		w.signal(Result{Err: errors.NewCancelledError(w.guid)})
	}
}

// StartSweeper launches the background expiry ticker. Stop must be called
// to release it.
func (r *Router) StartSweeper(interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Expire()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweeper goroutine and drains all outstanding waiters.
func (r *Router) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.DrainAll()
}
