// Package journal defines the rung lifecycle records written for later
// inspection. Persisting them is the storage layer's concern.
package journal

import (
	"context"
	"time"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time      `json:"time"`
	Type        string         `json:"type"` // e.g., "order", "ladder", "runner"
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// Order is the persisted snapshot of one rung.
type Order struct {
	RecordID      string    `json:"record_id"`
	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	ParentID      string    `json:"parent_id,omitempty"` // entry record id for exits
	Account       string    `json:"account"`
	Instrument    string    `json:"instrument"`
	SecurityID    string    `json:"security_id"`
	Role          string    `json:"role"` // "entry" or "exit"
	Side          string    `json:"side"`
	Kind          string    `json:"kind"`
	Product       string    `json:"product"`
	Quantity      int       `json:"quantity"`
	Price         float64   `json:"price"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Journaler interface for journaling events and order snapshots.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
	SaveOrder(ctx context.Context, o Order) error
}
