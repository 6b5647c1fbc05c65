package domain

import (
	"fmt"
	"strings"
	"time"
)

// QueueType names a priority queue
type QueueType string

// Default queue types, highest priority first
const (
	QueueTypeVIP      QueueType = "VIP"
	QueueTypeBusiness QueueType = "BUSINESS"
	QueueTypePriority QueueType = "PRIORITY"
	QueueTypeGeneral  QueueType = "GENERAL"
)

// Queue limits
const (
	MaxQueueCapacity         = 200
	MaxAverageServiceMinutes = 120
	DefaultValidityWindow    = 2 * time.Hour
)

// ParseQueueType normalizes a queue type name
func ParseQueueType(raw string) (QueueType, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	if name == "" {
		return "", NewValidationError("queue_type", "must not be empty")
	}
	return QueueType(name), nil
}

// Queue is the registered metadata of a queue type
type Queue struct {
	Type                  QueueType
	PriorityRank          int
	Capacity              int
	AverageServiceMinutes int
	ValidityWindow        time.Duration
	Active                bool
}

// Validate checks queue metadata bounds
func (q Queue) Validate() error {
	if q.Type == "" {
		return NewValidationError("queue_type", "must not be empty")
	}
	if q.PriorityRank <= 0 {
		return NewValidationError("priority_rank", fmt.Sprintf("must be positive for %s", q.Type))
	}
	if q.Capacity <= 0 || q.Capacity > MaxQueueCapacity {
		return NewValidationError("capacity", fmt.Sprintf("must be between 1 and %d for %s", MaxQueueCapacity, q.Type))
	}
	if q.AverageServiceMinutes <= 0 || q.AverageServiceMinutes > MaxAverageServiceMinutes {
		return NewValidationError("average_service_minutes", fmt.Sprintf("must be between 1 and %d for %s", MaxAverageServiceMinutes, q.Type))
	}
	if q.ValidityWindow < 0 {
		return NewValidationError("validity_window", fmt.Sprintf("must not be negative for %s", q.Type))
	}
	return nil
}

// EstimateMinutes returns position x average service minutes
func (q Queue) EstimateMinutes(position int) int {
	if position <= 0 {
		return 0
	}
	return position * q.AverageServiceMinutes
}

// Window returns the validity window, falling back to the default
func (q Queue) Window() time.Duration {
	if q.ValidityWindow <= 0 {
		return DefaultValidityWindow
	}
	return q.ValidityWindow
}

// DefaultQueues returns the stock queue set
func DefaultQueues() []Queue {
	return []Queue{
		{Type: QueueTypeVIP, PriorityRank: 1, Capacity: 10, AverageServiceMinutes: 5, ValidityWindow: DefaultValidityWindow, Active: true},
		{Type: QueueTypeBusiness, PriorityRank: 2, Capacity: 20, AverageServiceMinutes: 10, ValidityWindow: DefaultValidityWindow, Active: true},
		{Type: QueueTypePriority, PriorityRank: 3, Capacity: 30, AverageServiceMinutes: 15, ValidityWindow: DefaultValidityWindow, Active: true},
		{Type: QueueTypeGeneral, PriorityRank: 4, Capacity: 50, AverageServiceMinutes: 20, ValidityWindow: DefaultValidityWindow, Active: true},
	}
}
