package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/ticketero/internal/domain"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		queues  []domain.Queue
		wantErr bool
	}{
		{name: "defaults", queues: domain.DefaultQueues()},
		{name: "empty", queues: nil},
		{
			name: "duplicate type",
			queues: []domain.Queue{
				{Type: "A", PriorityRank: 1, Capacity: 1, AverageServiceMinutes: 1},
				{Type: "A", PriorityRank: 2, Capacity: 1, AverageServiceMinutes: 1},
			},
			wantErr: true,
		},
		{
			name:    "capacity over limit",
			queues:  []domain.Queue{{Type: "A", PriorityRank: 1, Capacity: 201, AverageServiceMinutes: 1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.queues)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Len(t, c.All(), len(tt.queues))
		})
	}
}

func TestCatalog_ActiveOrder(t *testing.T) {
	c, err := New([]domain.Queue{
		{Type: "LOW", PriorityRank: 9, Capacity: 5, AverageServiceMinutes: 5, Active: true},
		{Type: "TOP", PriorityRank: 1, Capacity: 5, AverageServiceMinutes: 5, Active: true},
		{Type: "OFF", PriorityRank: 2, Capacity: 5, AverageServiceMinutes: 5, Active: false},
	})
	require.NoError(t, err)

	active := c.Active()
	require.Len(t, active, 2)
	assert.Equal(t, domain.QueueType("TOP"), active[0].Type)
	assert.Equal(t, domain.QueueType("LOW"), active[1].Type)
	assert.Len(t, c.All(), 3)
}

func TestCatalog_GetInactive(t *testing.T) {
	c := Default()

	q, err := c.Get(domain.QueueTypeVIP)
	require.NoError(t, err)
	assert.Equal(t, 10, q.Capacity)

	_, err = c.SetActive(domain.QueueTypeVIP, false)
	require.NoError(t, err)

	_, err = c.Get(domain.QueueTypeVIP)
	assert.True(t, errors.Is(err, domain.ErrQueueNotFound))
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, ok := c.Lookup(domain.QueueTypeVIP)
	assert.True(t, ok)

	_, err = c.Get("UNKNOWN")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
