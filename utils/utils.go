package utils

import (
	"github.com/google/uuid"
)

// GenerateUUIDString returns a fresh ID used to correlate one connection's
// log lines.
func GenerateUUIDString() string {
	id := uuid.New()
	return id.String()
}
