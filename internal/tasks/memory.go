package tasks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is the in-process Queue used by tests and single-node runs.
type MemoryQueue struct {
	mu     sync.Mutex
	due    map[string]Task
	leased map[string]Task
	done   map[string]bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		due:    map[string]Task{},
		leased: map[string]Task{},
		done:   map[string]bool{},
	}
}

func (q *MemoryQueue) Schedule(_ context.Context, t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.done[t.ID] {
		return nil
	}
	if _, ok := q.due[t.ID]; ok {
		return nil
	}
	if _, ok := q.leased[t.ID]; ok {
		return nil
	}
	q.due[t.ID] = t
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context, now time.Time, limit int) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []Task
	for _, t := range q.due {
		if !t.NotBefore.After(now) {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].NotBefore.Before(ready[j].NotBefore) })
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	for _, t := range ready {
		delete(q.due, t.ID)
		q.leased[t.ID] = t
	}
	return ready, nil
}

func (q *MemoryQueue) Complete(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, id)
	delete(q.due, id)
	q.done[id] = true
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, t Task, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, t.ID)
	t.NotBefore = at
	q.due[t.ID] = t
	return nil
}

// Pending returns the number of tasks not yet completed.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.due) + len(q.leased)
}
