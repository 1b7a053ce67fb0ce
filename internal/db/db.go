// Package db
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/amirphl/ladder-trader/internal/journal"
)

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB
	journal.Journaler
	GetOrder(ctx context.Context, recordID string) (*journal.Order, error)
	GetOpenOrders(ctx context.Context, account string) ([]journal.Order, error)
	DeleteEvents(ctx context.Context, eventType string, before time.Time) error
}

// terminalStates are the rung states after which a row never changes again.
var terminalStates = []string{"REJECTED", "SKIPPED", "CANCELLED", "ABANDONED", "EXIT_TRADED", "EXIT_CANCELLED"}

func isTerminal(state string) bool {
	for _, s := range terminalStates {
		if s == state {
			return true
		}
	}
	return false
}
