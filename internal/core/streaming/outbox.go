package streaming

import (
	"context"
	"sync"

	"github.com/markdave123-py/bitacora/internal/models"
)

// outbox is an unbounded FIFO between a session's producer and its consumer
// channel. push never blocks, so a slow reader cannot stall parsing or
// batching; pump delivers in push order.
type outbox struct {
	mu     sync.Mutex
	queue  []models.StreamMessage
	closed bool
	signal chan struct{}
}

func newOutbox() *outbox {
	return &outbox{signal: make(chan struct{}, 1)}
}

func (o *outbox) push(m models.StreamMessage) {
	o.mu.Lock()
	o.queue = append(o.queue, m)
	o.mu.Unlock()
	o.notify()
}

// close marks the end of input; pump returns once the queue drains.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.notify()
}

func (o *outbox) notify() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// pump forwards queued messages to out and closes out when the outbox is
// closed and empty, or when ctx ends.
func (o *outbox) pump(ctx context.Context, out chan<- models.StreamMessage) {
	defer close(out)

	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			closed := o.closed
			o.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-o.signal:
				continue
			case <-ctx.Done():
				return
			}
		}
		m := o.queue[0]
		o.queue[0] = models.StreamMessage{}
		o.queue = o.queue[1:]
		o.mu.Unlock()

		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}
