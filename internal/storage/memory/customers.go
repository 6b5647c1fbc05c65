package memory

import (
	"context"
	"sync"

	"github.com/cuongbtq/ticketero/internal/domain"
	"github.com/cuongbtq/ticketero/internal/storage"
)

// Customers is an in-memory customer directory keyed by normalized national id
type Customers struct {
	mu         sync.RWMutex
	byID       map[string]domain.Customer
	byNational map[string]string
}

var _ storage.CustomerDirectory = (*Customers)(nil)

// NewCustomers creates a directory holding the given customers
func NewCustomers(customers ...domain.Customer) *Customers {
	c := &Customers{
		byID:       make(map[string]domain.Customer),
		byNational: make(map[string]string),
	}
	for _, cust := range customers {
		c.Put(cust)
	}
	return c
}

// Put adds or replaces a customer
func (c *Customers) Put(cust domain.Customer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, err := domain.NormalizeNationalID(cust.NationalID); err == nil {
		cust.NationalID = id
	}
	c.byID[cust.ID] = cust
	c.byNational[cust.NationalID] = cust.ID
}

func (c *Customers) FindByNationalID(ctx context.Context, nationalID string) (domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Customer{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byNational[nationalID]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return c.byID[id], nil
}

func (c *Customers) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Customer{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	cust, ok := c.byID[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return cust, nil
}
