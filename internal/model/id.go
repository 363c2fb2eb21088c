package model

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string for use as a sortable record identifier.
func NewID() string {
	return ulid.Make().String()
}

// NewTraceID generates a fresh correlation id for one inbound request.
func NewTraceID() string {
	return uuid.NewString()
}

// NewJobID generates the opaque task id handed to clients for polling.
func NewJobID() string {
	return uuid.NewString()
}
