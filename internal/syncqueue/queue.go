package syncqueue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bus-track/internal/logger"

	"github.com/google/uuid"
)

// DefaultRetryLimit is the ceiling after which an item is dropped.
const DefaultRetryLimit = 5

// Item is one pending write queued while the network was unreachable.
type Item struct {
	ID         string          `json:"id"`
	Operation  string          `json:"operation"`
	Endpoint   string          `json:"endpoint"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
}

// Sender issues the original write for a queued item.
type Sender interface {
	Send(ctx context.Context, item Item) error
}

// Queue is the driver-side durable queue of pending writes with background
// flush, retry counting, and eviction. Items are flushed in enqueue order.
type Queue struct {
	sender     Sender
	policy     RetryPolicy
	retryLimit int
	log        *logger.Logger
	now        func() time.Time

	mu     sync.Mutex
	items  []Item
	online bool

	wake chan struct{}
}

// New constructs a Queue. A nil policy falls back to a 30 s fixed interval.
func New(sender Sender, policy RetryPolicy, retryLimit int, log *logger.Logger) *Queue {
	if policy == nil {
		policy = FixedInterval{Every: 30 * time.Second}
	}
	if retryLimit <= 0 {
		retryLimit = DefaultRetryLimit
	}
	return &Queue{
		sender:     sender,
		policy:     policy,
		retryLimit: retryLimit,
		log:        log,
		now:        time.Now,
		online:     true,
		wake:       make(chan struct{}, 1),
	}
}

// Enqueue appends a pending write and returns the stored item.
func (q *Queue) Enqueue(operation, endpoint string, payload json.RawMessage) Item {
	item := Item{
		ID:        uuid.NewString(),
		Operation: operation,
		Endpoint:  endpoint,
		Payload:   payload,
		Timestamp: q.now().UTC(),
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	return item
}

// SetOnline records network reachability. A transition to online triggers
// an immediate flush in addition to the timer.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	wasOnline := q.online
	q.online = online
	q.mu.Unlock()

	if online && !wasOnline {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a snapshot of queued items in flush order.
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Flush attempts every queued item once. Successful items are removed;
// failed items have their retry count incremented and are dropped once the
// ceiling is reached. The drop is silent apart from a diagnostic log.
// Returns the number of items flushed successfully.
func (q *Queue) Flush(ctx context.Context) int {
	q.mu.Lock()
	if !q.online || len(q.items) == 0 {
		q.mu.Unlock()
		return 0
	}
	batch := make([]Item, len(q.items))
	copy(batch, q.items)
	q.mu.Unlock()

	flushed := 0
	var keep []Item
	for _, item := range batch {
		err := q.sender.Send(ctx, item)
		if err == nil {
			flushed++
			continue
		}

		item.RetryCount++
		if item.RetryCount >= q.retryLimit {
			if q.log != nil {
				q.log.Error(ctx, "sync_item_dropped", "Queued write exceeded retry ceiling and was dropped", err, map[string]any{
					"item_id":     item.ID,
					"operation":   item.Operation,
					"endpoint":    item.Endpoint,
					"retry_count": item.RetryCount,
				})
			}
			continue
		}
		keep = append(keep, item)
	}

	q.mu.Lock()
	// items enqueued during the flush are appended behind the survivors
	q.items = append(keep, q.items[len(batch):]...)
	q.mu.Unlock()

	return flushed
}

// Run flushes on the policy's cadence until ctx is cancelled. A network
// "came back online" signal wakes it immediately.
func (q *Queue) Run(ctx context.Context) {
	attempt := 0
	timer := time.NewTimer(q.policy.NextDelay(attempt))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}

		flushed := q.Flush(ctx)
		if flushed > 0 || q.Len() == 0 {
			attempt = 0
		} else {
			attempt++
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.policy.NextDelay(attempt))
	}
}
