package presence

import (
	"context"
	"sync"
	"time"

	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/safeset"
	"github.com/cyberinferno/go-tcpsession/tcpserver"
	"github.com/eapache/queue"
)

const defaultOpTimeout = 2 * time.Second

type opKind int

const (
	opPut opKind = iota
	opRemove
	opRemoveAll
	opFlush
)

type trackerOp struct {
	kind  opKind
	entry Entry
	key   string
	done  chan struct{}
}

// Tracker is a tcpserver.ServerStateListener that mirrors the server's
// session table into a Store. Store writes run in order on a worker owned by
// the Tracker, so listener callbacks never wait on the store. Every event is
// forwarded to the wrapped listener immediately. Store failures are logged
// and never reach the wrapped listener.
type Tracker struct {
	store     Store
	node      string
	next      tcpserver.ServerStateListener
	log       logger.Logger
	keys      *safeset.SafeSet[string]
	opTimeout time.Duration
	now       func() time.Time

	mu      sync.Mutex
	ops     *queue.Queue
	running bool
}

// NewTracker creates a Tracker writing to store.
//
// Parameters:
//   - store: Destination directory
//   - node: Node name recorded in every entry
//   - next: Listener receiving forwarded events; may be nil
//   - log: Logger for store failures; nil disables logging
//
// Returns:
//   - A new *Tracker, ready to pass to Server.SetStateListener
func NewTracker(store Store, node string, next tcpserver.ServerStateListener, log logger.Logger) *Tracker {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Tracker{
		store:     store,
		node:      node,
		next:      next,
		log:       log.With(logger.Field{Key: "node", Value: node}),
		keys:      safeset.NewSafeSet[string](),
		opTimeout: defaultOpTimeout,
		now:       time.Now,
		ops:       queue.New(),
	}
}

// Tracked returns the keys this tracker has recorded and not yet removed.
// Writes still queued are not reflected; call Flush first.
func (t *Tracker) Tracked() []string {
	return t.keys.Values()
}

// Flush waits until every store write queued before the call has run.
//
// Parameters:
//   - ctx: Bounds the wait
//
// Returns:
//   - ctx.Err() if the queue did not drain in time, nil otherwise
func (t *Tracker) Flush(ctx context.Context) error {
	done := make(chan struct{})
	t.enqueue(trackerOp{kind: opFlush, done: done})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) OnStarted(port int) {
	if t.next != nil {
		t.next.OnStarted(port)
	}
}

// OnStopped queues removal of every entry this tracker recorded. Entries
// written by other nodes sharing the store are left alone.
func (t *Tracker) OnStopped() {
	t.enqueue(trackerOp{kind: opRemoveAll})

	if t.next != nil {
		t.next.OnStopped()
	}
}

func (t *Tracker) OnClientConnected(key string) {
	t.enqueue(trackerOp{kind: opPut, entry: Entry{Addr: key, Node: t.node, ConnectedAt: t.now()}})

	if t.next != nil {
		t.next.OnClientConnected(key)
	}
}

func (t *Tracker) OnClientDisconnected(key string) {
	t.enqueue(trackerOp{kind: opRemove, key: key})

	if t.next != nil {
		t.next.OnClientDisconnected(key)
	}
}

func (t *Tracker) OnClientError(key string, err error) {
	if t.next != nil {
		t.next.OnClientError(key, err)
	}
}

func (t *Tracker) OnError(err error) {
	if t.next != nil {
		t.next.OnError(err)
	}
}

// enqueue appends op and starts the worker if it is idle. At most one worker
// runs at a time, which keeps writes in event order.
func (t *Tracker) enqueue(op trackerOp) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ops.Add(op)
	if !t.running {
		t.running = true
		go t.work()
	}
}

func (t *Tracker) work() {
	for {
		t.mu.Lock()
		if t.ops.Length() == 0 {
			t.running = false
			t.mu.Unlock()
			return
		}
		op := t.ops.Remove().(trackerOp)
		t.mu.Unlock()

		t.apply(op)
	}
}

func (t *Tracker) apply(op trackerOp) {
	switch op.kind {
	case opPut:
		ctx, cancel := context.WithTimeout(context.Background(), t.opTimeout)
		defer cancel()

		if err := t.store.Put(ctx, op.entry); err != nil {
			t.log.Warn("presence put failed", logger.Field{Key: "key", Value: op.entry.Addr}, logger.Field{Key: "error", Value: err})
			return
		}
		t.keys.Add(op.entry.Addr)
	case opRemove:
		if t.keys.Remove(op.key) {
			t.remove(op.key)
		}
	case opRemoveAll:
		for _, key := range t.keys.Drain() {
			t.remove(key)
		}
	case opFlush:
		close(op.done)
	}
}

func (t *Tracker) remove(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.opTimeout)
	defer cancel()

	if err := t.store.Remove(ctx, key); err != nil {
		t.log.Warn("presence remove failed", logger.Field{Key: "key", Value: key}, logger.Field{Key: "error", Value: err})
	}
}
