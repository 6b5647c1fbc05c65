package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuongbtq/ticketero/internal/domain"
)

// Catalog holds the registered queues. Lookups return copies.
type Catalog struct {
	mu     sync.RWMutex
	queues map[domain.QueueType]domain.Queue
}

// New creates a catalog from the given queues. Every queue is validated and
// type names must be unique.
func New(queues []domain.Queue) (*Catalog, error) {
	c := &Catalog{queues: make(map[domain.QueueType]domain.Queue, len(queues))}
	for _, q := range queues {
		if err := q.Validate(); err != nil {
			return nil, err
		}
		if _, exists := c.queues[q.Type]; exists {
			return nil, domain.NewValidationError("queue_type", fmt.Sprintf("duplicate queue %s", q.Type))
		}
		c.queues[q.Type] = q
	}
	return c, nil
}

// Default creates a catalog with the stock queue set
func Default() *Catalog {
	c, err := New(domain.DefaultQueues())
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns an active queue
func (c *Catalog) Get(queueType domain.QueueType) (domain.Queue, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.queues[queueType]
	if !ok || !q.Active {
		return domain.Queue{}, fmt.Errorf("%w: %s", domain.ErrQueueNotFound, queueType)
	}
	return q, nil
}

// Lookup returns a queue regardless of its active flag
func (c *Catalog) Lookup(queueType domain.QueueType) (domain.Queue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.queues[queueType]
	return q, ok
}

// Active returns active queues ordered by priority rank, then type
func (c *Catalog) Active() []domain.Queue {
	all := c.All()
	active := all[:0]
	for _, q := range all {
		if q.Active {
			active = append(active, q)
		}
	}
	return active
}

// All returns every queue ordered by priority rank, then type
func (c *Catalog) All() []domain.Queue {
	c.mu.RLock()
	out := make([]domain.Queue, 0, len(c.queues))
	for _, q := range c.queues {
		out = append(out, q)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityRank != out[j].PriorityRank {
			return out[i].PriorityRank < out[j].PriorityRank
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// SetActive opens or closes a queue for admission and assignment
func (c *Catalog) SetActive(queueType domain.QueueType, active bool) (domain.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[queueType]
	if !ok {
		return domain.Queue{}, fmt.Errorf("%w: %s", domain.ErrQueueNotFound, queueType)
	}
	q.Active = active
	c.queues[queueType] = q
	return q, nil
}
