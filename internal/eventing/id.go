package eventing

import "github.com/google/uuid"

// NewEventID generates a random event identifier.
func NewEventID() string {
	return uuid.NewString()
}
