package storage

import (
	"github.com/google/uuid"
)

// generateID returns a time-ordered UUID so that id order is insertion order.
func generateID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// validCursor reports whether cursor is an id this package produced.
func validCursor(cursor string) bool {
	_, err := uuid.Parse(cursor)
	return err == nil
}
