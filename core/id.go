package core

import "github.com/google/uuid"

// NewID generates a new unique identifier for sessions, executions and events.
func NewID() string { return uuid.NewString() }
