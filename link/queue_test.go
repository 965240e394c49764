package link

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	var q queue[int]
	for i := 0; i < 5; i++ {
		q.push(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestQueue_ConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	const producers, perProducer = 8, 500

	var q queue[[2]int]
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.push([2]int{p, i})
			}
		}(p)
	}
	wg.Wait()

	require.Equal(t, producers*perProducer, q.len())
	next := make([]int, producers)
	for {
		v, ok := q.pop()
		if !ok {
			break
		}
		require.Equal(t, next[v[0]], v[1], "producer %d out of order", v[0])
		next[v[0]]++
	}
	for p, n := range next {
		assert.Equal(t, perProducer, n, "producer %d", p)
	}
}

func TestQueue_PushCappedDropsOldest(t *testing.T) {
	var q queue[int]
	for i := 0; i < 3; i++ {
		assert.Zero(t, q.pushCapped(i, 3))
	}
	assert.Equal(t, 1, q.pushCapped(3, 3))

	v, ok := q.pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, q.len())
}

func TestQueue_TakeFirstLeavesOthersInOrder(t *testing.T) {
	var q queue[string]
	for _, s := range []string{"a1", "b1", "a2", "b2"} {
		q.push(s)
	}

	v, ok := q.takeFirst(func(s string) bool { return s[0] == 'b' })
	require.True(t, ok)
	assert.Equal(t, "b1", v)

	_, ok = q.takeFirst(func(s string) bool { return s == "zz" })
	assert.False(t, ok)

	var rest []string
	for {
		s, ok := q.pop()
		if !ok {
			break
		}
		rest = append(rest, s)
	}
	assert.Equal(t, []string{"a1", "a2", "b2"}, rest)
}

func TestQueue_Clear(t *testing.T) {
	var q queue[int]
	q.push(1)
	q.push(2)
	assert.Equal(t, 2, q.clear())
	assert.Zero(t, q.len())
	assert.Zero(t, q.clear())
}
