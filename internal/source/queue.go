package source

import (
	"container/heap"
	"sync"

	"github.com/roach88/syncspace/internal/thing"
)

// job is one unit of remote work. run executes it on a worker; abort is
// called instead when the source closes before the job starts.
type job struct {
	priority thing.Priority
	seq      uint64
	run      func()
	abort    func(error)
}

// jobHeap orders by priority, highest first, then by submission.
type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// jobQueue is a thread-safe priority queue of pending jobs.
type jobQueue struct {
	mu     sync.Mutex
	jobs   jobHeap
	seq    uint64
	closed bool
}

func newJobQueue() *jobQueue {
	return &jobQueue{jobs: make(jobHeap, 0, 64)}
}

// push adds j. Returns false once the queue is closed.
func (q *jobQueue) push(j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.seq++
	j.seq = q.seq
	heap.Push(&q.jobs, j)
	return true
}

// pop removes the most urgent job and registers it with wg while the
// queue is still open, so a concurrent close always waits for it.
func (q *jobQueue) pop(wg *sync.WaitGroup) (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.jobs) == 0 {
		return nil, false
	}
	wg.Add(1)
	return heap.Pop(&q.jobs).(*job), true
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// close rejects later pushes and returns the jobs that never ran, most
// urgent first.
func (q *jobQueue) close() []*job {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	out := make([]*job, 0, len(q.jobs))
	for len(q.jobs) > 0 {
		out = append(out, heap.Pop(&q.jobs).(*job))
	}
	return out
}
