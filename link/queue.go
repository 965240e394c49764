package link

import "sync"

// queue is a mutex-guarded FIFO. Every operation, including scan-and-remove,
// is atomic with respect to concurrent pushes.
type queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// pushCapped appends v and drops the oldest items beyond limit. It returns the
// number of dropped items.
func (q *queue[T]) pushCapped(v T, limit int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, v)
	over := len(q.items) - limit
	if over <= 0 {
		return 0
	}
	var zero T
	for i := 0; i < over; i++ {
		q.items[i] = zero
	}
	q.items = q.items[over:]
	return over
}

func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// takeFirst removes and returns the oldest item matching pred.
func (q *queue[T]) takeFirst(pred func(T) bool) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	for i, v := range q.items {
		if !pred(v) {
			continue
		}
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = zero
		q.items = q.items[:len(q.items)-1]
		return v, true
	}
	return zero, false
}

// clear empties the queue and returns how many items were discarded.
func (q *queue[T]) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
