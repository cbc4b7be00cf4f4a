package common

import (
	"github.com/google/uuid"
)

// NewProfileQueryID generates a unique profile query ID with the "pq_" prefix
// Format: pq_<uuid>
func NewProfileQueryID() string {
	return "pq_" + uuid.New().String()
}

// NewExtractedProfileID generates a unique extracted record ID with the
// "xp_" prefix
func NewExtractedProfileID() string {
	return "xp_" + uuid.New().String()
}
