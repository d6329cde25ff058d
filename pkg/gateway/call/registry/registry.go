// Package registry tracks live calls. The in-process Tracker owns
// cancellation and drain for this node; the Redis registry adds a shared
// view of calls across nodes.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry describes one live call.
type Entry struct {
	CallID      string    `json:"call_id"`
	BusinessID  string    `json:"business_id,omitempty"`
	CallSID     string    `json:"call_sid,omitempty"`
	StreamSID   string    `json:"stream_sid,omitempty"`
	CallerPhone string    `json:"caller_phone,omitempty"`
	Node        string    `json:"node,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// Registry is the set of live calls.
type Registry interface {
	// Register adds a call. cancel is invoked by CancelAll. The returned
	// func removes the entry and is safe to call more than once.
	Register(ctx context.Context, e Entry, cancel func()) (unregister func(), err error)
	Count(ctx context.Context) (int, error)
	List(ctx context.Context) ([]Entry, error)
	// CancelAll cancels the calls running on this node.
	CancelAll() int
	// Wait blocks until every call on this node unregistered or ctx ends.
	Wait(ctx context.Context) bool
}

// Tracker is the in-process Registry.
type Tracker struct {
	mu    sync.Mutex
	calls map[string]*tracked
	wg    sync.WaitGroup
}

type tracked struct {
	entry  Entry
	cancel func()
	once   sync.Once
}

var _ Registry = (*Tracker)(nil)

func NewTracker() *Tracker {
	return &Tracker{calls: make(map[string]*tracked)}
}

func (t *Tracker) Register(_ context.Context, e Entry, cancel func()) (func(), error) {
	return t.add(e, cancel), nil
}

// add registers e, replacing (and releasing) an older entry with the same id.
func (t *Tracker) add(e Entry, cancel func()) func() {
	entry := &tracked{entry: e, cancel: cancel}

	t.mu.Lock()
	old := t.calls[e.CallID]
	t.calls[e.CallID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.release(e.CallID, old)
	}
	return func() { t.release(e.CallID, entry) }
}

func (t *Tracker) release(id string, entry *tracked) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.calls[id] == entry {
			delete(t.calls, id)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count(context.Context) (int, error) {
	return t.Len(), nil
}

// Len is Count without the context.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *Tracker) List(context.Context) ([]Entry, error) {
	t.mu.Lock()
	out := make([]Entry, 0, len(t.calls))
	for _, c := range t.calls {
		out = append(out, c.entry)
	}
	t.mu.Unlock()
	sortEntries(out)
	return out, nil
}

func (t *Tracker) CancelAll() int {
	var cancels []func()
	t.mu.Lock()
	for _, c := range t.calls {
		if c.cancel != nil {
			cancels = append(cancels, c.cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

func (t *Tracker) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].StartedAt.Equal(entries[j].StartedAt) {
			return entries[i].StartedAt.Before(entries[j].StartedAt)
		}
		return entries[i].CallID < entries[j].CallID
	})
}
