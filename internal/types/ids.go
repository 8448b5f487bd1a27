// internal/types/ids.go
package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type MeetingID string
type JobID string

func NewMeetingID() MeetingID {
	return MeetingID(uuid.New().String())
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

// LiveSegmentID names the segment produced from a live chunk.
func LiveSegmentID(id MeetingID, chunkIndex int) string {
	return fmt.Sprintf("%s-live-%d", id, chunkIndex)
}

// ValidMeetingID reports whether id is usable as a single path element.
func ValidMeetingID(id MeetingID) bool {
	s := string(id)
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}
