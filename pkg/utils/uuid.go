package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IsUUID checks if the string is a valid UUID
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// TempID builds a client-local placeholder id for optimistic entries.
func TempID(now time.Time) string {
	return fmt.Sprintf("temp-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// IsTempID reports whether id was produced by TempID.
func IsTempID(id string) bool {
	return len(id) > 5 && id[:5] == "temp-"
}
