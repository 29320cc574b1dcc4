package tcpsession

import (
	"fmt"
	"os"
	"sync"

	"github.com/eapache/queue"
)

// sendJob is one queued write. Exactly one of payload or path is used; path
// is read on the send worker so large files do not block the caller.
type sendJob struct {
	payload     []byte
	description string
	path        string
}

func (j sendJob) materialize() ([]byte, string, error) {
	if j.path == "" {
		return j.payload, j.description, nil
	}

	data, err := os.ReadFile(j.path)
	if err != nil {
		return nil, "", fmt.Errorf("read file %s: %w", j.path, err)
	}

	return data, fmt.Sprintf("[FILE Size: %d, Path: %s]", len(data), j.path), nil
}

// sendQueue is an unbounded FIFO consumed by a single worker. Once closed it
// rejects pushes and pop reports false, dropping jobs not yet dequeued.
type sendQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *queue.Queue
	closed bool
}

func newSendQueue() *sendQueue {
	q := &sendQueue{items: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *sendQueue) push(job sendJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	q.items.Add(job)
	q.cond.Signal()
	return true
}

// pop blocks until a job is available or the queue is closed.
func (q *sendQueue) pop() (sendJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Length() == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.closed {
		return sendJob{}, false
	}

	return q.items.Remove().(sendJob), true
}

func (q *sendQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	q.closed = true
	for q.items.Length() > 0 {
		q.items.Remove()
	}
	q.cond.Broadcast()
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}
